package llm

// Models is the set of model ids a request may select.
type Models struct {
	allowed  map[string]struct{}
	order    []string
	fallback string
}

// NewModels builds the registry. The fallback is always allowed.
func NewModels(allowed []string, fallback string) Models {
	m := Models{
		allowed:  make(map[string]struct{}, len(allowed)+1),
		fallback: fallback,
	}
	for _, id := range append([]string{fallback}, allowed...) {
		if id == "" {
			continue
		}
		if _, seen := m.allowed[id]; seen {
			continue
		}
		m.allowed[id] = struct{}{}
		m.order = append(m.order, id)
	}
	return m
}

// Resolve returns the model to run for a requested id. Unknown or empty ids
// resolve to the fallback, reported by ok == false.
func (m Models) Resolve(model string) (resolved string, ok bool) {
	if _, known := m.allowed[model]; known && model != "" {
		return model, true
	}
	return m.fallback, false
}

func (m Models) Fallback() string {
	return m.fallback
}

// List returns every allowed id, fallback first.
func (m Models) List() []string {
	return append([]string(nil), m.order...)
}
