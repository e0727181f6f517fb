package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"metagraph/internal/infra/persistence/memory"
	"metagraph/pkg/domain"
)

const (
	// DefaultWalkLimit caps the number of steps a single Walk may take.
	DefaultWalkLimit = 4000
	// DefaultHandleCacheSize bounds the number of live node handles.
	DefaultHandleCacheSize = 4096
)

// ErrNotFound is returned when a referenced node or member does not exist.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Service is the graph store: every node, link and tag operation runs through
// it inside a store transaction. It owns no global state; one Service holds
// one open document.
type Service struct {
	store     PersistentStore
	registry  *Registry
	logger    *zap.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	walkLimit int
	cacheSize int

	mu      sync.Mutex
	handles *lru.Cache[NodeID, *MetaNode]
	plugins map[string]PluginMetadata
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry installs a pre-populated class registry.
func WithRegistry(r *Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the logger used for warnings and rule violations.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the operation metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the operation tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithWalkLimit overrides DefaultWalkLimit.
func WithWalkLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.walkLimit = n
		}
	}
}

// WithHandleCacheSize overrides DefaultHandleCacheSize. Hidden attribute
// values live on handles, so an evicted handle loses them.
func WithHandleCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// NewService constructs a service over store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		registry:  NewRegistry(),
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		walkLimit: DefaultWalkLimit,
		cacheSize: DefaultHandleCacheSize,
		plugins:   make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.New[NodeID, *MetaNode](s.cacheSize)
	if err != nil {
		panic(fmt.Sprintf("handle cache: %v", err))
	}
	s.handles = cache
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying persistence backend.
func (s *Service) Store() PersistentStore { return s.store }

// Registry returns the class registry.
func (s *Service) Registry() *Registry { return s.registry }

// Logger returns the service logger.
func (s *Service) Logger() *zap.Logger { return s.logger }

type txKey struct{}

func txFrom(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(Transaction)
	return tx, ok
}

// run executes fn inside a store transaction. When ctx already carries a
// transaction, fn joins it so handle methods compose inside Batch and Init.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx Transaction) error) (Result, error) {
	if tx, ok := txFrom(ctx); ok {
		return Result{}, fn(ctx, tx)
	}
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	})
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	s.logViolations(op, res)
	if err != nil {
		var rv domain.RuleViolationError
		if errors.As(err, &rv) {
			s.logger.Warn("transaction blocked", zap.String("op", op), zap.Int("violations", len(rv.Result.Violations)))
		}
	}
	return res, err
}

// view runs fn over a read-only view, reusing the active transaction if any.
func (s *Service) view(ctx context.Context, fn func(TransactionView) error) error {
	if tx, ok := txFrom(ctx); ok {
		return fn(tx.Snapshot())
	}
	return s.store.View(ctx, fn)
}

func (s *Service) logViolations(op string, res Result) {
	for _, v := range res.Violations {
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("rule", v.Rule),
			zap.String("entity", string(v.Entity)),
			zap.String("id", v.EntityID),
		}
		switch v.Severity {
		case domain.SeverityBlock, domain.SeverityWarn:
			s.logger.Warn(v.Message, fields...)
		default:
			s.logger.Info(v.Message, fields...)
		}
	}
}

// Batch groups every graph operation performed with the supplied context into
// one transaction that commits or rolls back as a unit.
func (s *Service) Batch(ctx context.Context, fn func(ctx context.Context) error) (Result, error) {
	res, err := s.run(ctx, "batch", func(ctx context.Context, _ Transaction) error {
		return fn(ctx)
	})
	if err != nil {
		s.purgeHandles()
	}
	return res, err
}

// CreateOption customises Create.
type CreateOption func(*createConfig)

type createConfig struct {
	name     string
	attrs    map[string]any
	parents  []NodeID
	children []NodeID
	members  []MemberID
}

// WithName sets the node name; the class prefix is added by SetName.
func WithName(name string) CreateOption {
	return func(c *createConfig) { c.name = name }
}

// WithAttributes writes initial attributes after the class Init hook.
func WithAttributes(attrs map[string]any) CreateOption {
	return func(c *createConfig) { c.attrs = attrs }
}

// AsChildOf links the new node under parent.
func AsChildOf(parent NodeID) CreateOption {
	return func(c *createConfig) { c.parents = append(c.parents, parent) }
}

// AsParentOf links child under the new node.
func AsParentOf(child NodeID) CreateOption {
	return func(c *createConfig) { c.children = append(c.children, child) }
}

// Tagging connects the new node to members.
func Tagging(members ...MemberID) CreateOption {
	return func(c *createConfig) { c.members = append(c.members, members...) }
}

// Create allocates a node of classTag, binds its handle and runs the class
// Init hook in the same transaction.
func (s *Service) Create(ctx context.Context, classTag string, opts ...CreateOption) (*MetaNode, error) {
	if classTag == "" {
		classTag = domain.BaseClass
	}
	class, ok := s.registry.Lookup(classTag)
	if !ok {
		return nil, fmt.Errorf("class %s not registered", classTag)
	}
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var handle *MetaNode
	_, err := s.run(ctx, "create", func(ctx context.Context, tx Transaction) error {
		node, err := tx.CreateNode(Node{
			Name:        class.Tag,
			ClassTag:    class.Tag,
			Version:     class.Version,
			Inheritance: s.registry.Chain(class.Tag),
		})
		if err != nil {
			return err
		}
		handle = newMetaNode(s, node.ID, class, true)
		s.handles.Add(node.ID, handle)
		if cfg.name != "" {
			if err := handle.SetName(ctx, cfg.name); err != nil {
				return err
			}
		}
		if class.Init != nil {
			if err := class.Init(ctx, handle); err != nil {
				return fmt.Errorf("init %s: %w", class.Tag, err)
			}
		}
		for _, name := range sortedKeys(cfg.attrs) {
			if err := handle.Set(ctx, name, cfg.attrs[name]); err != nil {
				return err
			}
		}
		for _, p := range cfg.parents {
			if err := s.SetParent(ctx, node.ID, p); err != nil {
				return err
			}
		}
		for _, c := range cfg.children {
			if err := s.SetChild(ctx, node.ID, c); err != nil {
				return err
			}
		}
		for _, m := range cfg.members {
			if err := s.ConnectTo(ctx, node.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if handle != nil {
			s.handles.Remove(handle.id)
		}
		return nil, err
	}
	s.logger.Debug("node created", zap.String("class", class.Tag), zap.String("id", string(handle.id)))
	return handle, nil
}

// Resolve binds a handle to an existing node, dispatching on its stored class
// tag. Unknown tags fall back to the base class with Resolved() false.
func (s *Service) Resolve(ctx context.Context, id NodeID) (*MetaNode, error) {
	if h, ok := s.handles.Get(id); ok {
		return h, nil
	}
	var node Node
	err := s.view(ctx, func(v TransactionView) error {
		n, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	class, resolved := s.registry.Resolve(node.ClassTag)
	if !resolved {
		s.logger.Warn("unregistered class tag, using base class",
			zap.String("id", string(id)), zap.String("class", node.ClassTag))
	}
	h := newMetaNode(s, id, class, resolved)
	if prev, ok, _ := s.handles.PeekOrAdd(id, h); ok {
		return prev, nil
	}
	return h, nil
}

// Get returns the committed node record.
func (s *Service) Get(ctx context.Context, id NodeID) (Node, error) {
	var node Node
	err := s.view(ctx, func(v TransactionView) error {
		n, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		node = n
		return nil
	})
	return node, err
}

// Delete destroys a node. Link edges and tag connections are severed, and
// part data written by its class is stripped from members no other node of
// that class still tags.
func (s *Service) Delete(ctx context.Context, id NodeID) error {
	_, err := s.run(ctx, "delete", func(ctx context.Context, tx Transaction) error {
		node, ok := tx.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		for _, member := range node.TaggedMembers() {
			if err := s.dropConnection(tx, node, member); err != nil {
				return err
			}
		}
		return tx.DeleteNode(id)
	})
	if err == nil {
		s.handles.Remove(id)
	}
	return err
}

// IsValid reports whether the node has a link edge in either direction or a
// tag connection, and passes its class validity hook.
func (s *Service) IsValid(ctx context.Context, id NodeID) (bool, error) {
	var valid bool
	err := s.view(ctx, func(v TransactionView) error {
		node, ok := v.FindNode(id)
		if !ok {
			return ErrNotFound{Entity: domain.EntityNode, ID: string(id)}
		}
		valid = s.isValid(v, node)
		return nil
	})
	return valid, err
}

func (s *Service) isValid(v TransactionView, node Node) bool {
	linked := len(node.Links) > 0 || len(node.Tagged) > 0 || len(v.ChildrenOf(node.ID)) > 0
	if !linked {
		return false
	}
	if class, ok := s.registry.Lookup(node.ClassTag); ok && class.Valid != nil {
		return class.Valid(v, node)
	}
	return true
}

// RemoveUnused deletes every invalid node in a single pass and returns their IDs.
func (s *Service) RemoveUnused(ctx context.Context) ([]NodeID, error) {
	var removed []NodeID
	_, err := s.run(ctx, "remove_unused", func(ctx context.Context, tx Transaction) error {
		view := tx.Snapshot()
		for _, node := range view.ListNodes() {
			if s.isValid(view, node) {
				continue
			}
			removed = append(removed, node.ID)
		}
		for _, id := range removed {
			if err := s.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range removed {
		s.handles.Remove(id)
	}
	if len(removed) > 0 {
		s.logger.Info("removed unused nodes", zap.Int("count", len(removed)))
	}
	return removed, nil
}

// NodesOfClass lists nodes of tag ordered by ID. With includeSubclasses,
// nodes whose inheritance chain contains tag are included too.
func (s *Service) NodesOfClass(ctx context.Context, tag string, includeSubclasses bool) ([]Node, error) {
	var out []Node
	err := s.view(ctx, func(v TransactionView) error {
		for _, node := range v.ListNodes() {
			if node.ClassTag == tag || (includeSubclasses && node.InheritsFrom(tag)) {
				out = append(out, node)
			}
		}
		return nil
	})
	return out, err
}

// Reset discards the current document and starts an empty one.
func (s *Service) Reset(ctx context.Context) error {
	if _, ok := txFrom(ctx); ok {
		return ErrInsideBatch
	}
	if err := s.store.Restore(ctx, Snapshot{}); err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	s.purgeHandles()
	return nil
}

// Close releases handles and the backend.
func (s *Service) Close() error {
	s.purgeHandles()
	return s.store.Close()
}

func (s *Service) purgeHandles() {
	s.handles.Purge()
}

// InstallPlugin registers a plugin's classes into the registry and its rules
// into the active engine.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	reg := NewPluginRegistry()
	if err := plugin.Register(reg); err != nil {
		return PluginMetadata{}, err
	}
	if err := s.registry.Register(reg.Classes()...); err != nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
	}
	engine := s.store.RulesEngine()
	for _, rule := range reg.Rules() {
		engine.Register(rule)
	}

	meta := newPluginMetadata(plugin, reg)
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", zap.String("plugin", meta.Name), zap.Strings("classes", meta.Classes))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins ordered by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
