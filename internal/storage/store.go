package storage

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// Persister loads and saves the serialized document. Load returns (nil, nil)
// when nothing has been persisted yet.
type Persister interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Store gives linearizable access to the one shared document. Every Update
// sees the effect of all prior Updates; every Read sees the latest completed
// Update. Both return deep copies that are safe for the caller to mutate.
type Store interface {
	Read() (*models.Document, error)
	Update(mutate func(doc *models.Document) error) (*models.Document, error)
	Close()
}

type request struct {
	mutate func(doc *models.Document) error
	reply  chan result
}

type result struct {
	doc *models.Document
	err error
}

// DocumentStore funnels all access through one FIFO actor goroutine
// (concurrency 1). Each successful Update persists the whole document
// before replying; a persist failure is returned to the caller.
type DocumentStore struct {
	persister Persister
	requests  chan request
	done      chan struct{}
}

// NewDocumentStore loads the persisted document (or starts empty) and
// starts the actor goroutine.
func NewDocumentStore(p Persister) (*DocumentStore, error) {
	doc, err := load(p)
	if err != nil {
		return nil, err
	}

	s := &DocumentStore{
		persister: p,
		requests:  make(chan request),
		done:      make(chan struct{}),
	}
	go s.run(doc)
	return s, nil
}

func load(p Persister) (*models.Document, error) {
	data, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if data == nil {
		log.Println("📦 No persisted state found - starting with empty document")
		return models.NewDocument(), nil
	}

	doc := models.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse persisted state: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*models.Session)
	}
	log.Printf("📦 Loaded persisted state (%d sessions)", len(doc.Sessions))
	return doc, nil
}

func (s *DocumentStore) run(doc *models.Document) {
	for {
		select {
		case req := <-s.requests:
			res, next := s.handle(doc, req)
			doc = next
			req.reply <- res
		case <-s.done:
			return
		}
	}
}

// handle applies one request against the current document and returns the
// document the actor should carry forward. A mutation is applied to a copy
// first so a rejected or unpersisted change never leaks into later requests.
func (s *DocumentStore) handle(doc *models.Document, req request) (result, *models.Document) {
	if req.mutate == nil {
		copied, err := deepCopy(doc)
		if err != nil {
			return result{err: err}, doc
		}
		return result{doc: copied}, doc
	}

	working, err := deepCopy(doc)
	if err != nil {
		return result{err: err}, doc
	}
	if err := req.mutate(working); err != nil {
		return result{err: err}, doc
	}

	data, err := json.MarshalIndent(working, "", "  ")
	if err != nil {
		return result{err: fmt.Errorf("failed to serialize state: %w", err)}, doc
	}
	if err := s.persister.Save(data); err != nil {
		return result{err: fmt.Errorf("failed to persist state: %w", err)}, doc
	}

	copied, err := deepCopy(working)
	if err != nil {
		return result{err: err}, working
	}
	return result{doc: copied}, working
}

// Read returns a deep copy of the current document
func (s *DocumentStore) Read() (*models.Document, error) {
	return s.submit(nil)
}

// Update applies the mutator against the latest state, persists the whole
// document and returns the result. The mutator runs synchronously inside
// the store's actor; it must not block.
func (s *DocumentStore) Update(mutate func(doc *models.Document) error) (*models.Document, error) {
	return s.submit(mutate)
}

func (s *DocumentStore) submit(mutate func(doc *models.Document) error) (*models.Document, error) {
	req := request{mutate: mutate, reply: make(chan result, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return nil, fmt.Errorf("store is closed")
	}
	res := <-req.reply
	return res.doc, res.err
}

// Close stops the actor goroutine
func (s *DocumentStore) Close() {
	close(s.done)
}

func deepCopy(doc *models.Document) (*models.Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}
	out := models.NewDocument()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}
	if out.Sessions == nil {
		out.Sessions = make(map[string]*models.Session)
	}
	return out, nil
}
