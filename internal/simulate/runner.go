package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
)

var sampleSongs = []struct{ Artist, Title string }{
	{"Drake", "God's Plan"},
	{"Kendrick Lamar", "DNA."},
	{"Sade", "Kiss of Life"},
	{"MF DOOM", "Rhymes Like Dimes"},
	{"Little Simz", "Introvert"},
	{"J Dilla", "Workinonit"},
}

// guest is one simulated participant.
type guest struct {
	client *Client
	live   *Live
	cache  *GradedCache
	vote   *model.Vote
}

// Run executes a complete simulated session.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, error) {
	applyDefaults(cfg)
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting session simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("guests", cfg.Guests),
		logger.Int("songs", cfg.Songs),
		logger.String("cacheDir", cfg.CacheDir))

	// Step 1: Wait for the service
	if err := waitHealthy(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Sign in and go online
	guests, err := signIn(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("sign in failed: %w", err)
	}
	defer closeAll(guests)
	host := guests[0]
	if err := waitPresence(ctx, host.client, guests, model.Online); err != nil {
		return stats, err
	}

	// Step 3: Fill the queue
	if err := submitSongs(ctx, cfg, guests, stats); err != nil {
		return stats, fmt.Errorf("song submission failed: %w", err)
	}

	// Step 4: Host plays the freshest song and opens grading
	track, err := playFreshest(ctx, host.client)
	if err != nil {
		return stats, fmt.Errorf("promotion failed: %w", err)
	}
	stats.Track = track
	log.Info(ctx, "now playing", logger.String("artist", track.Artist), logger.String("title", track.Title))

	// Step 5: Everybody grades at once
	if err := gradeAll(ctx, guests, track, stats, log); err != nil {
		return stats, fmt.Errorf("grading failed: %w", err)
	}

	// Step 6: Host closes grading and the track is recorded
	if _, err := host.client.CloseGrading(ctx); err != nil {
		return stats, fmt.Errorf("close grading failed: %w", err)
	}

	// Step 7: Verify results
	if err := verify(ctx, guests, track); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 8: Sign off and stop playback
	for _, g := range guests[1:] {
		_ = g.live.Close()
		g.live = nil
	}
	if err := waitPresence(ctx, host.client, guests[1:], model.Offline); err != nil {
		return stats, err
	}
	if _, err := host.client.Clear(ctx); err != nil {
		return stats, fmt.Errorf("clear failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Guests < 1 {
		cfg.Guests = DefaultGuests
	}
	if cfg.Songs < 1 {
		cfg.Songs = DefaultSongs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
}

// waitHealthy retries the health check while the service comes up.
func waitHealthy(ctx context.Context, cfg *Config) error {
	c := NewClient(cfg.BaseURL, cfg.Timeout)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = healthInitialWait
	b.MaxInterval = healthMaxWait
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.Healthy(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(healthMaxTries))
	return err
}

func signIn(ctx context.Context, cfg *Config, stats *Stats) ([]*guest, error) {
	guests := make([]*guest, cfg.Guests)
	g, gctx := errgroup.WithContext(ctx)
	for i := range guests {
		g.Go(func() error {
			c := NewClient(cfg.BaseURL, cfg.Timeout)
			handle := "Sim_" + strconv.Itoa(i) + "_" + uuid.NewString()[:8]
			if err := c.SignIn(gctx, handle); err != nil {
				return err
			}
			live, err := c.Connect(gctx)
			if err != nil {
				return err
			}
			cache, err := OpenGradedCache(filepath.Join(cfg.CacheDir, "guest-"+strconv.Itoa(i)+".json"))
			if err != nil {
				_ = live.Close()
				return err
			}
			guests[i] = &guest{client: c, live: live, cache: cache}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(guests)
		return nil, err
	}
	stats.GuestsSignedIn = len(guests)
	return guests, nil
}

func closeAll(guests []*guest) {
	for _, g := range guests {
		if g != nil && g.live != nil {
			_ = g.live.Close()
			g.live = nil
		}
	}
}

// waitPresence polls attendance until every guest is in state.
func waitPresence(ctx context.Context, c *Client, guests []*guest, state string) error {
	deadline := time.Now().Add(presenceTimeout)
	for {
		records, err := c.Presence(ctx)
		if err != nil {
			return fmt.Errorf("presence: %w", err)
		}
		byUID := make(map[string]string, len(records))
		for _, r := range records {
			byUID[r.UID] = r.State
		}
		pending := 0
		for _, g := range guests {
			if byUID[g.client.User.UID] != state {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d guests never became %s", pending, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func submitSongs(ctx context.Context, cfg *Config, guests []*guest, stats *Stats) error {
	var submitted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, gu := range guests {
		g.Go(func() error {
			for j := range cfg.Songs {
				s := sampleSongs[(i+j)%len(sampleSongs)]
				if _, err := gu.client.Submit(gctx, s.Artist, s.Title); err != nil {
					return err
				}
				submitted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.SongsSubmitted = int(submitted.Load())
	return err
}

func playFreshest(ctx context.Context, host *Client) (model.Track, error) {
	queue, err := host.Queue(ctx)
	if err != nil {
		return model.Track{}, err
	}
	if len(queue) == 0 {
		return model.Track{}, errors.New("queue is empty")
	}
	st, err := host.Promote(ctx, queue[0].ID)
	if err != nil {
		return model.Track{}, err
	}
	if st.Track == nil || st.Track.ID != queue[0].ID {
		return model.Track{}, errors.New("promoted track is not playing")
	}
	if _, err := host.OpenGrading(ctx); err != nil {
		return model.Track{}, err
	}
	return *st.Track, nil
}

func gradeAll(ctx context.Context, guests []*guest, track model.Track, stats *Stats, log logger.Logger) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, gu := range guests {
		g.Go(func() error {
			if gu.cache.Has(track.ID) {
				mu.Lock()
				stats.GradesSkipped++
				mu.Unlock()
				return nil
			}
			vote, _, err := gu.client.Grade(gctx, track.ID, randomScores())
			var apiErr *APIError
			switch {
			case errors.As(err, &apiErr) && apiErr.Code == "already_graded":
				mu.Lock()
				stats.GradesRejected++
				mu.Unlock()
				return gu.cache.Add(track.ID)
			case err != nil:
				return err
			}
			log.Debug(gctx, "graded", logger.String("handle", gu.client.User.Handle), logger.Int("total", vote.Total))
			gu.vote = &vote
			mu.Lock()
			stats.GradesSubmitted++
			mu.Unlock()
			return gu.cache.Add(track.ID)
		})
	}
	return g.Wait()
}

// randomScores draws every criterion from 0 to 10 in half steps.
func randomScores() model.Scores {
	half := func() float64 { return float64(rand.IntN(21)) / 2 }
	return model.Scores{Flow: half(), Beat: half(), Bars: half(), Vibe: half(), Aesthetic: half()}
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	log.Info(ctx, "final statistics",
		logger.Int("guestsSignedIn", stats.GuestsSignedIn),
		logger.Int("songsSubmitted", stats.SongsSubmitted),
		logger.Int("gradesSubmitted", stats.GradesSubmitted),
		logger.Int("gradesSkipped", stats.GradesSkipped),
		logger.Int("gradesRejected", stats.GradesRejected),
		logger.String("track", stats.Track.Artist+" - "+stats.Track.Title),
		logger.Duration("duration", stats.Duration))
}
