package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	socketio "github.com/googollee/go-socket.io"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api"
	"github.com/linesmerrill/marketplace-chat-api/api/scheduler"
	"github.com/linesmerrill/marketplace-chat-api/config"
	"github.com/linesmerrill/marketplace-chat-api/conversation"
	"github.com/linesmerrill/marketplace-chat-api/databases"
	"github.com/linesmerrill/marketplace-chat-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router        *mux.Router
	Config        config.Config
	Conversations *conversation.Router
	SocketIO      *socketio.Server
	Hub           *Hub
	Scheduler     *scheduler.Scheduler
	dbHelper      databases.DatabaseHelper
	client        databases.ClientHelper
}

// Wire builds both realtime transports on top of the store and hooks them
// to one conversation router
func (a *App) Wire(store conversation.Store) error {
	server, err := NewSocketIOServer(a.Config.RedisAddr, a.Config.RedisPrefix)
	if err != nil {
		return err
	}
	a.SocketIO = server
	a.Hub = NewHub()
	a.Conversations = conversation.NewRouter(store, conversation.MultiBroadcaster{
		SocketBroadcaster{Server: server},
		a.Hub,
	})

	SocketIO{Server: server, Conversations: a.Conversations, QueryTimeout: a.Config.QueryTimeout}.RegisterHandlers()
	go func() {
		if err := server.Serve(); err != nil {
			zap.S().Errorw("socket.io server stopped", "error", err)
		}
	}()

	a.Scheduler = scheduler.NewScheduler(a.Config.PresenceCron, a.Conversations, a.Hub, server)
	return a.Scheduler.Start()
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	r := mux.NewRouter()
	r.Use(api.MetricsMiddleware)

	ws := WebSocket{Hub: a.Hub, Conversations: a.Conversations, QueryTimeout: a.Config.QueryTimeout}
	c := Conversation{Router: a.Conversations, QueryTimeout: a.Config.QueryTimeout}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())

	// realtime transports
	if a.SocketIO != nil {
		r.PathPrefix("/socket.io/").Handler(a.SocketIO)
	}
	r.HandleFunc("/ws/conversations", ws.ConversationsWebSocketHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.HandleFunc("/transaction/{transaction_id}/messages", c.MessagesHandler).Methods("GET")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	ctx, cancel := api.WithQueryTimeout(context.Background(), a.Config.QueryTimeout)
	defer cancel()
	if err = client.Connect(ctx); err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	a.client = client
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	zap.S().Info("marketplace-chat-api has connected to the database")

	store := conversation.NewMongoStore(databases.NewTransactionDatabase(a.dbHelper))
	if err = a.Wire(store); err != nil {
		zap.S().With(err).Error("failed to start realtime transports")
		return err
	}

	// initialize api router
	a.initializeRoutes()
	return nil
}

// Close stops background work and releases the database connection
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.SocketIO != nil {
		if err := a.SocketIO.Close(); err != nil {
			zap.S().Warnw("failed to close socket.io server", "error", err)
		}
	}
	if a.client != nil {
		ctx, cancel := api.WithQueryTimeout(context.Background(), a.Config.QueryTimeout)
		defer cancel()
		if err := a.client.Disconnect(ctx); err != nil {
			zap.S().Warnw("failed to disconnect from database", "error", err)
		}
	}
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
