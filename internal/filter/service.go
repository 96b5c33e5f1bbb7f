package filter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sift-ai/gatewatch/internal/config"
	"github.com/sift-ai/gatewatch/internal/learning"
	"github.com/sift-ai/gatewatch/internal/privacy"
	"github.com/sift-ai/gatewatch/internal/rules"
	"github.com/sift-ai/gatewatch/internal/storage"
	"github.com/sift-ai/gatewatch/internal/trust"
	"go.uber.org/zap"
)

// deferDraws is the size of the sample space for LOW-priority deferral:
// one outcome in ten passes through, the rest defer.
const deferDraws = 10

// ConfigPersister receives the active configuration after a successful
// replacement. Implementations must not block the caller.
type ConfigPersister func(cfg *config.Config, reason string)

// Options wires a Service together.
type Options struct {
	Config    *config.Config      // nil means config.Default()
	Writer    storage.EventWriter // nil means events are dropped
	Persist   ConfigPersister     // nil means no config persistence
	Snapshot  trust.Snapshotter   // trust profile persistence hook
	Logger    *zap.Logger
	Seed      int64            // deferral RNG seed; 0 seeds from the clock
	Now       func() time.Time // test hook
}

// Service is the filter coordinator: the single public entry point that
// resolves identity, runs the rule engine and reputation layer, applies
// the admission policy, and fans results out to the learner, the trust
// store, and the event sink.
type Service struct {
	mu     sync.RWMutex
	cfg    *config.Config
	set    *rules.Set
	engine *rules.Engine

	trust   *trust.Store
	monitor *privacy.Monitor
	learner *learning.Learner

	writer  storage.EventWriter
	persist ConfigPersister

	rngMu sync.Mutex
	rng   *rand.Rand

	stats  *statCounters
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds a Service from options. The configuration must be
// valid; NewService rejects a broken one the same way ReplaceConfig
// would.
func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = now().UnixNano()
	}

	set, err := rules.Compile(cfg.ContentRules(), cfg.ResponseRules, nil)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		set:     set,
		writer:  opts.Writer,
		persist: opts.Persist,
		rng:     rand.New(rand.NewSource(seed)),
		stats:   newStatCounters(),
		logger:  logger,
		now:     now,
	}

	s.trust = trust.NewStore(trust.Options{
		Tunables: cfg.Trust,
		Hash:     privacy.HashIdentity,
		Snapshot: opts.Snapshot,
		Logger:   logger,
		Now:      now,
	})
	s.monitor = privacy.NewMonitor(s.trust, cfg.Gaming, logger)
	s.monitor.SetNow(now)
	s.learner = learning.NewLearner(s.currentSet, cfg.Learning, logger)

	engine := rules.NewEngine(set, logger)
	engine.SetNow(now)
	s.engine = engine

	return s, nil
}

// Trust exposes the trust store for the API layer.
func (s *Service) Trust() *trust.Store { return s.trust }

// Monitor exposes the privacy monitor for the API layer.
func (s *Service) Monitor() *privacy.Monitor { return s.monitor }

// Learner exposes the adaptive learner for the API layer and the
// background adjustment loop.
func (s *Service) Learner() *learning.Learner { return s.learner }

func (s *Service) currentSet() *rules.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

func (s *Service) currentEngine() *rules.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Config returns the active configuration with live rule state folded
// in, suitable for serialization back to the caller or the store.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	cfg := s.cfg
	set := s.set
	s.mu.RUnlock()

	content, response := set.Rules()
	out := *cfg
	// Split content rules back into attention/review by their position:
	// ContentRules always lays attention rules out first.
	n := len(cfg.AttentionRules)
	if n > len(content) {
		n = len(content)
	}
	out.AttentionRules = content[:n]
	out.ReviewRules = content[n:]
	out.ResponseRules = response
	return &out
}

// FilterMessage decides whether, and how urgently, a message is
// processed. It never returns an error and never panics: any internal
// failure degrades to the MEDIUM/admit outcome, favoring availability
// over false suppression.
func (s *Service) FilterMessage(ctx context.Context, msg Message) (out Outcome) {
	start := s.now()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("filter internal error, admitting at default priority",
				zap.Any("panic", rec),
				zap.String("message_id", msg.ID),
			)
			out = s.safeDefault(msg)
		}
	}()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	// Identity resolution degrades, never fails: an empty handle is
	// treated as a first-contact sender with no history. Known handles
	// resolve through the stable hash, so a profile rekeyed by
	// anonymization keeps governing its original handle.
	handle, hasHistory := s.trust.Resolve(msg.Identity)
	if !hasHistory {
		handle = msg.Identity
	}

	result := s.currentEngine().Evaluate(ctx, msg.Content, rules.EvalContext{
		Identity:        handle,
		ChannelKind:     msg.ChannelKind,
		IsDirectMessage: msg.IsDirectMessage,
		IsAgentResponse: msg.IsAgentResponse,
	})

	contentPriority := result.Priority
	if !result.Triggered {
		// No rule fired: identified senders with history default to
		// MEDIUM, first-contact senders to LOW.
		if hasHistory {
			contentPriority = rules.PriorityMedium
		} else {
			contentPriority = rules.PriorityLow
		}
	}

	// Reputation layer: senders with an existing profile get their
	// trust band folded in; the final priority is the max severity of
	// content and reputation. First contact skips the band.
	finalPriority := contentPriority
	if hasHistory {
		band := s.trust.PriorityFor(handle)
		finalPriority = rules.MaxSeverity(contentPriority, band)
	}

	admit := finalPriority != rules.PriorityIgnore
	deferred := finalPriority == rules.PriorityLow && s.drawDefer()

	rationale := result.Rationale
	if !result.Triggered {
		rationale = fmt.Sprintf("no rules triggered, assigned %s priority", finalPriority)
	} else if finalPriority != contentPriority {
		rationale = fmt.Sprintf("%s; reputation escalated to %s", rationale, finalPriority)
	}

	out = Outcome{
		MessageID:      msg.ID,
		Priority:       finalPriority,
		TriggeredRules: result.TriggeredIDs,
		Admit:          admit,
		Defer:          deferred,
		Rationale:      rationale,
		ContextHints: []Hint{
			{Key: "identity_hash", Value: privacy.HashIdentity(msg.Identity)},
			{Key: "channel_id", Value: msg.ChannelID},
			{Key: "channel_kind", Value: msg.ChannelKind},
			{Key: "is_dm", Value: strconv.FormatBool(msg.IsDirectMessage)},
			{Key: "is_agent_response", Value: strconv.FormatBool(msg.IsAgentResponse)},
		},
	}

	s.applyTrustUpdate(msg, handle, contentPriority, result)
	s.stats.observe(finalPriority, deferred)
	s.notifyLearner(result.TriggeredIDs)
	s.writeEvent(msg, handle, out, start)

	return out
}

// applyTrustUpdate adjusts the sender's reputation from this message's
// content verdict. Updates go to the resolved handle, so an anonymized
// profile keeps accumulating history for its original handle. Model
// responses never touch sender trust.
func (s *Service) applyTrustUpdate(msg Message, handle string, contentPriority rules.Priority, result rules.Result) {
	if msg.IsAgentResponse || handle == "" {
		return
	}

	switch {
	case result.Triggered && (contentPriority == rules.PriorityCritical || contentPriority == rules.PriorityHigh):
		s.trust.RecordViolation(handle, contentPriority, result.TriggeredIDs)
	case !result.Triggered:
		s.trust.RecordCleanMessage(handle)
	default:
		// Triggered below the violation bar: counted, not scored.
		s.trust.RecordNeutralMessage(handle)
	}
}

// notifyLearner forwards triggered rules to the learner off the message
// path. Triggers start life counted as true positives; operator
// feedback flips them.
func (s *Service) notifyLearner(triggered []string) {
	if len(triggered) == 0 {
		return
	}
	ids := append([]string(nil), triggered...)
	go func() {
		for _, id := range ids {
			s.learner.RecordOutcome(id, true)
		}
	}()
}

// writeEvent emits the decision to the event sink. Fire-and-forget.
func (s *Service) writeEvent(msg Message, handle string, out Outcome, start time.Time) {
	if s.writer == nil {
		return
	}

	sum := sha256.Sum256([]byte(msg.Content))
	var trustScore float64
	if p, ok := s.trust.Get(handle); ok {
		trustScore = p.TrustScore
	}

	s.writer.Write(&storage.FilterEvent{
		RequestID:       uuid.New().String(),
		MessageID:       out.MessageID,
		Timestamp:       start,
		ChannelKind:     msg.ChannelKind,
		IdentityHash:    privacy.HashIdentity(msg.Identity),
		IsAgentResponse: msg.IsAgentResponse,
		ContentPreview:  storage.TruncateContent(msg.Content, storage.ContentPreviewLength),
		ContentHash:     hex.EncodeToString(sum[:]),
		ContentSize:     uint32(len(msg.Content)),
		Priority:        out.Priority.String(),
		Admitted:        out.Admit,
		Deferred:        out.Defer,
		Rationale:       out.Rationale,
		TriggeredRules:  out.TriggeredRules,
		TrustScore:      trustScore,
		LatencyMs:       float32(float64(s.now().Sub(start)) / float64(time.Millisecond)),
	})
}

// drawDefer samples the deferral decision: ~90% of LOW-priority traffic
// defers, ~10% passes through.
func (s *Service) drawDefer() bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(deferDraws) > 0
}

// safeDefault is the catch-all outcome: MEDIUM priority, admitted, with
// a rationale noting the internal error. Filtering failure must be
// invisible to end users.
func (s *Service) safeDefault(msg Message) Outcome {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}
	return Outcome{
		MessageID: id,
		Priority:  rules.PriorityMedium,
		Admit:     true,
		Rationale: "filter internal error, message admitted at default priority",
	}
}

// ReplaceConfig validates and atomically swaps the whole configuration.
// On any validation or compile failure the previous configuration stays
// active; there are no partial patch semantics.
func (s *Service) ReplaceConfig(cfg *config.Config, reason string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	set, err := rules.Compile(cfg.ContentRules(), cfg.ResponseRules, nil)
	if err != nil {
		return err
	}

	// The new engine adopts the current window tracker: an active
	// flooder does not get a clean slate just because the rule set
	// changed.
	engine := rules.NewEngineWithWindows(set, s.currentEngine().Windows(), s.logger)
	engine.SetNow(s.now)

	s.mu.Lock()
	cfg.Version = s.cfg.Version + 1
	s.cfg = cfg
	s.set = set
	s.engine = engine
	s.mu.Unlock()

	s.trust.SetTunables(cfg.Trust)
	s.monitor.SetTunables(cfg.Gaming)
	s.learner.SetTunables(cfg.Learning)

	s.logger.Info("configuration replaced",
		zap.Int("version", cfg.Version),
		zap.String("reason", reason),
	)

	if s.persist != nil {
		s.persist(s.Config(), reason)
	}
	return nil
}
