// Command agent is the single entry point for the cognitive trading agent:
// it wires every collaborator together and runs the read/command HTTP
// surface, the /ws/live hub, and the background scheduler all in one
// process, so a manual trigger and a scheduled tick share the same
// in-process writeMu inside internal/orchestrator.
//
// Grounded in the teacher's cmd/dashboard/main.go wiring style (a Server
// struct assembling every collaborator, broadcaster/event-listener/HTTP
// server started as goroutines, signal-driven graceful shutdown) adapted
// to this system's orchestrator + scheduler instead of the teacher's bare
// dashboard-over-existing-trades model. The teacher split this wiring
// across cmd/engine (trading loop) and cmd/dashboard (API); this system's
// single-instrument scope collapses both into one binary with a single
// entrypoint.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nitinkhare/cognitivetrader/internal/api"
	"github.com/nitinkhare/cognitivetrader/internal/config"
	"github.com/nitinkhare/cognitivetrader/internal/dashboard"
	"github.com/nitinkhare/cognitivetrader/internal/market"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/orchestrator"
	"github.com/nitinkhare/cognitivetrader/internal/scheduler"
	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	mindStore := mind.New(cfg.MindDocPath, cfg.MindTemplatePath, store)
	marketClient := market.NewClient(cfg.MarketDataBaseURL, nil)

	orch := orchestrator.New(orchestrator.Config{
		Symbol:             cfg.TradingPair,
		MaxPositionPct:     cfg.MaxPositionPct,
		MaxExposurePct:     cfg.MaxExposurePct,
		MaxDailyLossPct:    cfg.MaxDailyLossPct,
		MaxStopLossPct:     cfg.MaxStopLossPct,
		InitialBalance:     cfg.InitialBalance,
		TradingFeePct:      cfg.TradingFeePct,
		SlippagePct:        cfg.SlippagePct,
		UseCognitiveFilter: cfg.UseCognitiveFilter,
	}, marketClient, store, mindStore, logger)

	sched := scheduler.New(time.Duration(cfg.AnalysisIntervalHours)*time.Hour, func(ctx context.Context, source string) error {
		_, err := orch.RunCycle(ctx, source)
		return err
	}, logger)
	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		logger.Println("scheduler: started")
	}

	broadcaster := dashboard.NewBroadcaster(logger)
	go broadcaster.Run()
	logger.Println("dashboard: broadcaster started")

	liveFeed := dashboard.NewLiveFeed(cfg.TradingPair, broadcaster,
		func(ctx context.Context) (float64, error) {
			price, err := store.LatestPrice(ctx, cfg.TradingPair)
			if err != nil {
				return 0, err
			}
			if price == nil {
				return 0, nil
			}
			return *price, nil
		},
		func(ctx context.Context) (int64, any, error) {
			decisions, err := store.RecentDecisions(ctx, 1)
			if err != nil {
				return 0, nil, err
			}
			if len(decisions) == 0 {
				return 0, nil, nil
			}
			return decisions[0].ID, decisions[0], nil
		},
		2*time.Second,
	)
	go liveFeed.Run(ctx)

	eventListener := dashboard.NewEventListener(cfg.DatabaseURL, liveFeed.OnNotify, logger)
	eventListener.Start(ctx)
	logger.Println("dashboard: event listener started")

	apiServer := api.New(cfg, store, mindStore, orch, sched, marketClient, logger)

	mux := http.NewServeMux()
	apiServer.Routes(mux)
	mux.HandleFunc("/ws/live", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, broadcaster, logger)
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.WithRequestID(mux),
		ReadTimeout:  12 * time.Second,
		WriteTimeout: 12 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("agent http server starting on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Println("shutting down agent...")
	cancel()
	sched.Stop()
	eventListener.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}

	broadcaster.Shutdown()
	logger.Println("agent stopped")
}

// handleWebSocket upgrades /ws/live connections and pumps LiveMessage
// broadcasts to the client, adapted from the teacher's
// cmd/dashboard/websocket.go writePump/readPump (30s ping ticker, 10s
// write deadline, 60s read deadline via a pong handler).
func handleWebSocket(w http.ResponseWriter, r *http.Request, broadcaster *dashboard.Broadcaster, logger *log.Logger) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	client := &dashboard.Client{ID: r.RemoteAddr, Send: make(chan any, 256)}
	broadcaster.Register(client)
	defer broadcaster.Unregister(client)

	logger.Printf("websocket: client connected from %s", client.ID)

	go writePump(ws, client, logger)
	readPump(ws, client, broadcaster, logger)
}

func writePump(ws *websocket.Conn, client *dashboard.Client, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Printf("websocket write error for %s: %v", client.ID, err)
				}
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(ws *websocket.Conn, client *dashboard.Client, broadcaster *dashboard.Broadcaster, logger *log.Logger) {
	defer func() {
		broadcaster.Unregister(client)
		logger.Printf("websocket: client disconnected from %s", client.ID)
	}()

	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Printf("websocket read error for %s: %v", client.ID, err)
			}
			return
		}
	}
}
