package services

import "time"

// Timer is a cancellable delayed task
type Timer interface {
	Stop() bool
}

// Clock abstracts time so timer behavior can be tested with a virtual clock
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// NewClock returns the wall clock
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
