package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api"
)

// SessionCounter reports identified sessions and the users behind them
type SessionCounter interface {
	Stats() (sessions, users int)
}

// RoomCounter reports open connections and rooms of one transport
type RoomCounter interface {
	Stats() (clients, rooms int)
}

// ConnectionCounter reports open socket.io connections
type ConnectionCounter interface {
	Count() int
}

// Scheduler handles periodic background jobs for the chat service
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	Sessions   SessionCounter
	Hub        RoomCounter
	SocketIO   ConnectionCounter
	instanceID string
}

// NewScheduler creates a new scheduler instance running the presence report
// on the given cron spec
func NewScheduler(spec string, sessions SessionCounter, hub RoomCounter, sio ConnectionCounter) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		spec:       spec,
		Sessions:   sessions,
		Hub:        hub,
		SocketIO:   sio,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.reportPresence); err != nil {
		zap.S().Errorw("failed to register presence job", "spec", s.spec, "error", err)
		return err
	}

	s.cron.Start()
	zap.S().Infow("Presence scheduler started", "spec", s.spec, "instance", s.instanceID)
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Presence scheduler stopped")
}

// presence is a snapshot of connection state on this instance
type presence struct {
	sessions, users, wsClients, wsRooms, socketIOConns int
}

func (s *Scheduler) snapshot() presence {
	var p presence
	if s.Sessions != nil {
		p.sessions, p.users = s.Sessions.Stats()
	}
	if s.Hub != nil {
		p.wsClients, p.wsRooms = s.Hub.Stats()
	}
	if s.SocketIO != nil {
		p.socketIOConns = s.SocketIO.Count()
	}
	return p
}

// reportPresence logs how many users are connected to this instance and
// refreshes the identified users gauge
func (s *Scheduler) reportPresence() {
	p := s.snapshot()
	api.IdentifiedUsers.Set(float64(p.users))
	zap.S().Infow("presence report",
		"instance", s.instanceID,
		"identifiedSessions", p.sessions,
		"identifiedUsers", p.users,
		"websocketClients", p.wsClients,
		"websocketRooms", p.wsRooms,
		"socketioConnections", p.socketIOConns,
	)
}
