package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civicmesh/enroll/internal/admin"
	"github.com/civicmesh/enroll/internal/conversation"
	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/platform/otel"
	"github.com/civicmesh/enroll/internal/positions"
	"github.com/civicmesh/enroll/internal/session"
	"github.com/civicmesh/enroll/internal/session/snapshot"
	"github.com/civicmesh/enroll/internal/sheets"
	"github.com/civicmesh/enroll/internal/tablestore"
)

// Run composes the registration runtime and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, "enroll")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	if cfg.SpreadsheetID == "" {
		return fmt.Errorf("ENROLL_SPREADSHEET_ID is required")
	}
	tokens, err := tokenSource(cfg)
	if err != nil {
		return err
	}
	client := sheets.NewHTTPClient(cfg.SheetsBaseURL, cfg.SpreadsheetID, tokens)
	tables := tablestore.New(client, m)
	allocator := positions.New(tables, m)

	if cfg.PositionCount > 0 {
		if err := allocator.Provision(ctx, cfg.PositionCount); err != nil {
			return fmt.Errorf("provision positions: %w", err)
		}
	}

	sessions := session.NewStore()
	snapshots, err := snapshot.Open(cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("open session snapshot: %w", err)
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			log.Printf("close session snapshot: %v", err)
		}
	}()
	restored, err := snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session snapshot: %w", err)
	}
	sessions.Restore(restored)
	log.Printf("restored %d sessions; positions stay reserved until an admin reset", len(restored))

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load prompt catalog: %w", err)
	}
	engine := conversation.NewEngine(sessions, tables, allocator, catalog, m)
	adminSvc := admin.New(tables, allocator)

	var wg sync.WaitGroup
	sweeper := session.NewSweeper(sessions, cfg.SessionTTL, cfg.SweepInterval, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshotLoop(ctx, sessions, snapshots, cfg.SnapshotInterval)
	}()

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: newHandler(engine, adminSvc, registry),
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown http server: %v", err)
	}
	wg.Wait()

	// A slow server drain can use up the shutdown deadline; the final
	// snapshot gets its own.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	if err := snapshots.Save(saveCtx, sessions.All()); err != nil {
		log.Printf("final session snapshot: %v", err)
	}
	return nil
}

// tokenSource picks the credential strategy: a static bearer when one is
// configured, otherwise a service-account key exchanged for tokens.
func tokenSource(cfg Config) (sheets.TokenSource, error) {
	if cfg.StaticToken != "" {
		return sheets.StaticTokenSource(cfg.StaticToken), nil
	}
	if cfg.ServiceAccountKeyFile == "" {
		return nil, fmt.Errorf("either ENROLL_STATIC_TOKEN or ENROLL_SERVICE_ACCOUNT_KEY_FILE is required")
	}
	pemKey, err := os.ReadFile(cfg.ServiceAccountKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	return sheets.NewJWTTokenSource(cfg.ServiceAccountEmail, pemKey, cfg.TokenURL, sheetsScope)
}

func loadCatalog(cfg Config) (*conversation.Catalog, error) {
	if cfg.PromptCatalogPath != "" {
		return conversation.LoadCatalogFile(cfg.PromptCatalogPath)
	}
	return conversation.DefaultCatalog()
}

// snapshotLoop persists the session map on an interval so a restart resumes
// conversations where they left off.
func snapshotLoop(ctx context.Context, sessions *session.Store, snapshots *snapshot.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snapshots.Save(ctx, sessions.All()); err != nil {
				log.Printf("session snapshot: %v", err)
			}
		}
	}
}
