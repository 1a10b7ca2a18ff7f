package coordinator

import (
	"context"
	"log"
	"sync"
)

// Supervisor owns one coordinator per configured chain and runs them until
// shutdown or until any of them fails fatally. The first fatal error
// cancels every other coordinator and is returned to the caller, which
// maps it to the process exit code.
type Supervisor struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	logger       *log.Logger
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		coordinators: make(map[string]*Coordinator),
		logger:       logger,
	}
}

// Add registers a coordinator under its chain name.
func (s *Supervisor) Add(c *Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinators[c.ChainName()] = c
}

// Lookup returns the coordinator for a chain name.
func (s *Supervisor) Lookup(chainName string) (*Coordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coordinators[chainName]
	return c, ok
}

// List returns every registered coordinator.
func (s *Supervisor) List() []*Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Coordinator, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		list = append(list, c)
	}
	return list
}

// Run blocks until every coordinator has stopped. It returns the first
// fatal error any coordinator reported, or nil on a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(s.List()))

	for _, c := range s.List() {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				s.logger.Printf("[%s] coordinator failed: %v", c.ChainName(), err)
				errs <- err
				cancel()
			}
		}(c)
	}

	wg.Wait()
	close(errs)
	return <-errs
}
