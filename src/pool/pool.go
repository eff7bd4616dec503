package pool

import (
	"sync"

	logger "github.com/sirupsen/logrus"

	"tradedesk/src/exchange"
	"tradedesk/src/marketdata"
	"tradedesk/src/security"
)

// ClientFactory builds an authenticated REST client for a credential set.
type ClientFactory func(creds security.Credentials) (exchange.Client, error)

// AdapterFactory builds a market-data adapter for a public exchange id.
type AdapterFactory func(exchangeID string) (*marketdata.PollingAdapter, error)

type restEntry struct {
	client exchange.Client
	refs   int
}

type adapterEntry struct {
	adapter *marketdata.PollingAdapter
	refs    int
}

// ConnectionPool caches exchange clients and market-data adapters by
// identity key and tracks a reference count per entry. REST clients are
// keyed by the credential fingerprint (never the raw secret material),
// adapters by the exchange id alone. An entry lives exactly as long as
// its count is above zero.
type ConnectionPool struct {
	mu       sync.Mutex
	rest     map[string]*restEntry
	adapters map[string]*adapterEntry

	newClient  ClientFactory
	newAdapter AdapterFactory
}

// NewConnectionPool builds a pool backed by goex clients and polling
// adapters with public clients.
func NewConnectionPool() *ConnectionPool {
	cfg := exchange.GetConfig()

	p := &ConnectionPool{
		rest:     make(map[string]*restEntry),
		adapters: make(map[string]*adapterEntry),
	}
	p.newClient = func(creds security.Credentials) (exchange.Client, error) {
		return exchange.NewGoexClient(creds, cfg)
	}
	p.newAdapter = func(exchangeID string) (*marketdata.PollingAdapter, error) {
		factory := func() (exchange.Client, error) {
			return exchange.NewGoexClient(security.Credentials{Exchange: exchangeID}, cfg)
		}
		return marketdata.NewPollingAdapter(exchangeID, factory, nil), nil
	}
	return p
}

// WithClientFactory overrides how REST clients are built. Useful for tests.
func (p *ConnectionPool) WithClientFactory(factory ClientFactory) *ConnectionPool {
	p.newClient = factory
	return p
}

// WithAdapterFactory overrides how adapters are built. Useful for tests and
// for installing an event handler on created adapters.
func (p *ConnectionPool) WithAdapterFactory(factory AdapterFactory) *ConnectionPool {
	p.newAdapter = factory
	return p
}

// RestHandle is a scoped lease on a pooled REST client. Release must be
// called on every exit path; releasing twice through the same handle is a
// no-op.
type RestHandle struct {
	client  exchange.Client
	once    sync.Once
	release func()
}

func (h *RestHandle) Client() exchange.Client {
	return h.client
}

func (h *RestHandle) Release() {
	h.once.Do(h.release)
}

// AdapterHandle is a scoped lease on a pooled market-data adapter.
type AdapterHandle struct {
	adapter *marketdata.PollingAdapter
	once    sync.Once
	release func()
}

func (h *AdapterHandle) Adapter() *marketdata.PollingAdapter {
	return h.adapter
}

func (h *AdapterHandle) Release() {
	h.once.Do(h.release)
}

// AcquireRestClient returns a pooled authenticated client for the given
// credentials, creating it on first acquisition.
func (p *ConnectionPool) AcquireRestClient(creds security.Credentials) (*RestHandle, error) {
	key := creds.Fingerprint()

	p.mu.Lock()
	entry, exists := p.rest[key]
	if exists {
		entry.refs++
		p.mu.Unlock()
	} else {
		p.mu.Unlock()

		client, err := p.newClient(creds)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		// Someone may have raced us while the client was being built.
		if racing, ok := p.rest[key]; ok {
			racing.refs++
			entry = racing
		} else {
			entry = &restEntry{client: client, refs: 1}
			p.rest[key] = entry
		}
		p.mu.Unlock()

		logger.WithFields(map[string]interface{}{
			"component": "ConnectionPool",
			"exchange":  exchange.NormalizeExchange(creds.Exchange),
		}).Debug("rest client created")
	}

	return &RestHandle{
		client:  entry.client,
		release: func() { p.releaseRest(key) },
	}, nil
}

func (p *ConnectionPool) releaseRest(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.rest[key]
	if !exists {
		logger.WithField("component", "ConnectionPool").
			Warn("release of an unknown rest entry ignored")
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		// Stateless REST clients need no explicit teardown.
		delete(p.rest, key)
	}
}

// AcquireMarketAdapter returns a pooled, connected market-data adapter for
// the exchange. A connect failure propagates and the entry is never cached.
func (p *ConnectionPool) AcquireMarketAdapter(exchangeID string) (*AdapterHandle, error) {
	key := exchange.NormalizeExchange(exchangeID)

	p.mu.Lock()
	entry, exists := p.adapters[key]
	if exists {
		entry.refs++
		p.mu.Unlock()
	} else {
		p.mu.Unlock()

		adapter, err := p.newAdapter(key)
		if err != nil {
			return nil, err
		}
		if err := adapter.Connect(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		if racing, ok := p.adapters[key]; ok {
			p.mu.Unlock()
			// Lost the race; keep the cached adapter and drop ours.
			_ = adapter.Disconnect()
			p.mu.Lock()
			racing.refs++
			entry = racing
		} else {
			entry = &adapterEntry{adapter: adapter, refs: 1}
			p.adapters[key] = entry
		}
		p.mu.Unlock()

		logger.WithFields(map[string]interface{}{
			"component": "ConnectionPool",
			"exchange":  key,
		}).Debug("market adapter created")
	}

	return &AdapterHandle{
		adapter: entry.adapter,
		release: func() { p.releaseAdapter(key) },
	}, nil
}

func (p *ConnectionPool) releaseAdapter(key string) {
	p.mu.Lock()
	entry, exists := p.adapters[key]
	if !exists {
		p.mu.Unlock()
		logger.WithField("component", "ConnectionPool").
			Warn("release of an unknown adapter entry ignored")
		return
	}

	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.adapters, key)
	p.mu.Unlock()

	if err := entry.adapter.Disconnect(); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "ConnectionPool",
			"exchange":  key,
		}).WithError(err).Error("adapter disconnect failed on eviction")
	}
}

// Stats summarizes the live pool for observability endpoints.
type Stats struct {
	RestClients int `json:"rest_clients"`
	Adapters    int `json:"adapters"`
	TotalRefs   int `json:"total_refs"`
}

func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{RestClients: len(p.rest), Adapters: len(p.adapters)}
	for _, e := range p.rest {
		s.TotalRefs += e.refs
	}
	for _, e := range p.adapters {
		s.TotalRefs += e.refs
	}
	return s
}

// Shutdown disconnects every live adapter and clears all entries. Used at
// process teardown; individual disconnect failures are logged so shutdown
// always completes.
func (p *ConnectionPool) Shutdown() {
	p.mu.Lock()
	adapters := make([]*adapterEntry, 0, len(p.adapters))
	for _, e := range p.adapters {
		adapters = append(adapters, e)
	}
	p.adapters = make(map[string]*adapterEntry)
	p.rest = make(map[string]*restEntry)
	p.mu.Unlock()

	for _, e := range adapters {
		if err := e.adapter.Disconnect(); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "ConnectionPool",
				"exchange":  e.adapter.Exchange(),
			}).WithError(err).Error("adapter disconnect failed during shutdown")
		}
	}

	logger.WithField("component", "ConnectionPool").Info("pool shut down")
}
