package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/dao"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
)

// server exposes a running repository over HTTP and purges soft-deleted
// bitstreams in the background.
type server struct {
	logger   logrus.FieldLogger
	repo     *dao.Repository
	plugins  *pipeline.Registry
	decoder  *schema.Decoder
	interval time.Duration
	trigger  chan struct{}
}

func newServer(logger logrus.FieldLogger, repo *dao.Repository, plugins *pipeline.Registry, interval time.Duration) *server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &server{
		logger:   logger,
		repo:     repo,
		plugins:  plugins,
		decoder:  decoder,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Prometheus metrics.
	mux.Handle("/metrics", promhttp.Handler())

	// Read-only object lookup.
	mux.HandleFunc("/objects", s.lookup)

	// Profiling data.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

	return mux
}

// objectQuery selects an object either by handle or by type and id.
type objectQuery struct {
	Handle string `schema:"handle"`
	Type   string `schema:"type"`
	ID     string `schema:"id"`
}

type objectResponse struct {
	Type     string                  `json:"type"`
	Object   content.Object          `json:"object"`
	Metadata []content.MetadataValue `json:"metadata"`
}

// lookup serves an object to anonymous readers. Objects that anonymous
// users cannot READ, such as withdrawn items, are refused.
func (s *server) lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var q objectQuery
	if err := s.decoder.Decode(&q, r.URL.Query()); err != nil {
		s.fail(w, rErrors.NewWithError(rErrors.InvalidOperation, err))
		return
	}

	sess := s.repo.NewSession(r.Context(), nil)
	defer s.repo.Abort(sess)

	o, err := s.find(sess, q)
	if err == nil {
		err = s.repo.Gate().Authorize(sess, o, content.ActionRead)
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(objectResponse{
		Type:     o.Type().String(),
		Object:   o,
		Metadata: o.MetadataValues(),
	}); err != nil {
		s.logger.WithError(err).Warn("Cannot encode object")
	}
}

func (s *server) find(sess *session.Session, q objectQuery) (content.Object, error) {
	if q.Handle != "" {
		return s.repo.Resolve(sess, q.Handle)
	}
	t, ok := content.ParseType(q.Type)
	if !ok {
		return nil, rErrors.Errorf(rErrors.InvalidOperation, "unknown object type %q", q.Type)
	}
	id, err := uuid.Parse(q.ID)
	if err != nil {
		return nil, rErrors.NewWithError(rErrors.InvalidOperation, err)
	}
	o, err := s.repo.RetrieveObject(sess, t, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, rErrors.Errorf(rErrors.NotFound, "%s %s", t, id)
	}
	return o, nil
}

func (s *server) fail(w http.ResponseWriter, err error) {
	var status int
	switch rErrors.KindOf(err) {
	case rErrors.InvalidOperation:
		status = http.StatusBadRequest
	case rErrors.AuthorizationDenied:
		status = http.StatusForbidden
	case rErrors.NotFound:
		status = http.StatusNotFound
	case rErrors.NonUniqueMetadata:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		s.logger.WithError(err).Error("Object lookup failed")
	}
	http.Error(w, err.Error(), status)
}

// requestCleanup asks the janitor for a purge. It never blocks: a request
// made while another one is pending is dropped.
func (s *server) requestCleanup() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// runJanitor purges soft-deleted bitstreams every interval and whenever a
// purge is requested, until ctx is done.
func (s *server) runJanitor(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-s.trigger:
		}
		if _, err := s.cleanup(ctx); err != nil {
			s.logger.WithError(err).Error("Bitstream cleanup failed")
		}
	}
}

// cleanup runs one purge as the system.
func (s *server) cleanup(ctx context.Context) (int, error) {
	sess := s.repo.NewSession(ctx, nil)
	sess.TurnOffAuthorization()
	n, err := s.repo.Bitstreams.Cleanup(sess)
	if err != nil {
		s.repo.Abort(sess)
		return n, err
	}
	s.logger.WithField("purged", n).Info("Bitstream cleanup completed")
	return n, s.repo.Commit(sess)
}

// report logs the plugin configuration.
func (s *server) report() {
	for _, name := range s.plugins.Plugins() {
		s.logger.WithFields(logrus.Fields{
			"plugin":  name,
			"enabled": s.plugins.Enabled(name),
		}).Info("Plugin")
	}
}
