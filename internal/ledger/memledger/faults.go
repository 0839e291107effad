package memledger

import "sync"

// Faults permite inyectar errores por operación ("Connect", "GetIdentity", ...).
type Faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// Set hace que op falle con err hasta que se llame Clear. err nil lo limpia.
func (f *Faults) Set(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *Faults) Clear(op string) { f.Set(op, nil) }

func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}
