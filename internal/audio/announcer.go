package audio

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/proximity"
)

// AnnouncerConfig tunes what is said and how often
type AnnouncerConfig struct {
	// Phrases maps a stage to what is spoken when the loop enters it.
	// Stages without a phrase stay silent.
	Phrases     map[proximity.Stage]string
	QueueSize   int
	MinInterval time.Duration
	// PlayTimeout bounds synthesis plus playback of one phrase
	PlayTimeout time.Duration
}

// DefaultAnnouncerConfig says "object close" on entering Near, at most every 3s
func DefaultAnnouncerConfig() AnnouncerConfig {
	return AnnouncerConfig{
		Phrases:     map[proximity.Stage]string{proximity.Near: "object close"},
		QueueSize:   4,
		MinInterval: 3 * time.Second,
		PlayTimeout: 15 * time.Second,
	}
}

// Announcer implements loop.Announcer. Announce only enqueues; a worker
// goroutine synthesizes and plays.
type Announcer struct {
	cfg     AnnouncerConfig
	synth   Synthesizer
	player  Player
	metrics *metrics.Metrics
	limiter *rate.Limiter

	queue chan string
	wg    sync.WaitGroup
	once  sync.Once
	stop  chan struct{}
}

// NewAnnouncer creates an announcer. m may be nil.
func NewAnnouncer(cfg AnnouncerConfig, synth Synthesizer, player Player, m *metrics.Metrics) *Announcer {
	def := DefaultAnnouncerConfig()
	if cfg.Phrases == nil {
		cfg.Phrases = def.Phrases
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = def.PlayTimeout
	}
	if m == nil {
		m = metrics.New()
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Announcer{
		cfg:     cfg,
		synth:   synth,
		player:  player,
		metrics: m,
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan string, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the playback worker
func (a *Announcer) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.run(ctx)
}

// Stop ends the worker after the phrase in progress and drops the rest
func (a *Announcer) Stop() {
	a.once.Do(func() {
		close(a.stop)
	})
	a.wg.Wait()
}

// Announce queues the phrase for stage, if any. It never blocks.
func (a *Announcer) Announce(stage proximity.Stage) {
	text, ok := a.cfg.Phrases[stage]
	if !ok || text == "" {
		return
	}

	select {
	case a.queue <- text:
	default:
		a.metrics.AnnouncementsDropped.Add(1)
		logger.Debug("Audio", "Queue full, dropping %q", text)
	}
}

func (a *Announcer) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case text := <-a.queue:
			if !a.limiter.Allow() {
				logger.Debug("Audio", "Throttled %q", text)
				continue
			}
			a.speak(ctx, text)
		}
	}
}

func (a *Announcer) speak(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PlayTimeout)
	defer cancel()

	audio, err := a.synth.Synthesize(ctx, text)
	if err != nil {
		logger.Warn("Audio", "Synthesis failed for %q: %v", text, err)
		return
	}
	if err := a.player.Play(ctx, audio); err != nil {
		logger.Warn("Audio", "Playback failed for %q: %v", text, err)
		return
	}
	logger.Debug("Audio", "Spoke %q", text)
}
