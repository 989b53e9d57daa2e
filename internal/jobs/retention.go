package jobs

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/listafacil/listafacil-backend/internal/models"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// RetentionJob prunes finished sessions and their photo files once they
// are older than the retention window. Only terminal sessions are ever
// touched; anything in flight is kept no matter how old.
type RetentionJob struct {
	store     storage.Store
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
	isRunning bool
}

// NewRetentionJob creates the retention job. RETENTION_DAYS controls the
// window (default 7 days).
func NewRetentionJob(store storage.Store) *RetentionJob {
	days := 7
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	return &RetentionJob{
		store:     store,
		retention: time.Duration(days) * 24 * time.Hour,
		interval:  time.Hour,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup loop
func (j *RetentionJob) Start() {
	if j.isRunning {
		log.Println("Retention job already running")
		return
	}
	j.isRunning = true
	log.Printf("🧹 Retention job started (window: %s)", j.retention)

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.RunOnce()
		for {
			select {
			case <-j.done:
				return
			case <-ticker.C:
				j.RunOnce()
			}
		}
	}()
}

// Stop halts the cleanup loop
func (j *RetentionJob) Stop() {
	if !j.isRunning {
		return
	}
	j.isRunning = false
	close(j.done)
	log.Println("Retention job stopped")
}

// RunOnce deletes expired terminal sessions and their photos
func (j *RetentionJob) RunOnce() {
	cutoff := time.Now().Add(-j.retention)

	var photos []string
	_, err := j.store.Update(func(doc *models.Document) error {
		for id, s := range doc.Sessions {
			if !s.Status.IsTerminal() || s.UpdatedAt.After(cutoff) {
				continue
			}
			for _, p := range s.Photos {
				photos = append(photos, p.Path)
			}
			delete(doc.Sessions, id)
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ Retention sweep failed: %v", err)
		return
	}

	removed := 0
	for _, path := range photos {
		if err := os.Remove(path); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			log.Printf("⚠️  Failed to remove photo %s: %v", path, err)
		}
	}
	if len(photos) > 0 || removed > 0 {
		log.Printf("🧹 Retention sweep removed %d photo file(s)", removed)
	}
}
