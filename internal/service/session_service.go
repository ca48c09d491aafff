package service

import (
	"attendance_console/internal/config"
	"attendance_console/pkg/logger"
	"attendance_console/pkg/monitoring"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionEntry struct {
	session  *AttendanceSession
	lastSeen time.Time
}

// SessionService 按浏览器维护点名会话，长时间无访问的会话会被清理
type SessionService struct {
	mu          sync.Mutex
	api         AttendanceAPI
	archiver    ImportArchiver
	opts        SessionOptions
	idleTimeout time.Duration
	sessions    map[string]*sessionEntry
	now         func() time.Time
}

func SessionOptionsFromConfig(cfg *config.Config) SessionOptions {
	behavior, err := ParsePostSubmitBehavior(cfg.Session.PostSubmit)
	if err != nil {
		logger.Log.Warn("Unknown post-submit behavior, falling back to reload", zap.Error(err))
	}
	return SessionOptions{
		Behavior:       behavior,
		ReportURL:      cfg.Session.ReportURL,
		SeedFromServer: cfg.Session.SeedFromServer,
		ReloadDelay:    cfg.Import.ReloadDelay,
		MaxImportBytes: cfg.Import.MaxBytes,
	}
}

func NewSessionService(api AttendanceAPI, archiver ImportArchiver, cfg *config.Config) *SessionService {
	idle := cfg.Session.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	return &SessionService{
		api:         api,
		archiver:    archiver,
		opts:        SessionOptionsFromConfig(cfg),
		idleTimeout: idle,
		sessions:    make(map[string]*sessionEntry),
		now:         time.Now,
	}
}

// Acquire 返回 id 对应的会话，不存在时新建并返回新的 id
func (s *SessionService) Acquire(id string) (*AttendanceSession, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if entry, ok := s.sessions[id]; ok {
			entry.lastSeen = s.now()
			return entry.session, id, false
		}
	}

	id = uuid.NewString()
	s.sessions[id] = &sessionEntry{
		session:  NewAttendanceSession(s.api, s.archiver, s.opts),
		lastSeen: s.now(),
	}
	monitoring.ActiveSessions.Set(float64(len(s.sessions)))
	logger.Log.Debug("Attendance session created", zap.String("session_id", id))
	return s.sessions[id].session, id, true
}

// Remove 丢弃整个会话，浏览器下次请求会拿到新的会话
func (s *SessionService) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		entry.session.Reset()
		delete(s.sessions, id)
		logger.Log.Debug("Attendance session removed", zap.String("session_id", id))
	}
	monitoring.ActiveSessions.Set(float64(len(s.sessions)))
}

func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep 清理空闲超时的会话，返回清理数量
func (s *SessionService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > s.idleTimeout {
			entry.session.Reset()
			delete(s.sessions, id)
			removed++
		}
	}
	monitoring.ActiveSessions.Set(float64(len(s.sessions)))
	if removed > 0 {
		logger.Log.Info("Idle attendance sessions evicted", zap.Int("count", removed))
	}
	return removed
}

// RunJanitor 每分钟清理一次，ctx 取消后退出
func (s *SessionService) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// ApplyConfig 配置热更新：新旧会话都改用新的选项
func (s *SessionService) ApplyConfig(cfg *config.Config) {
	opts := SessionOptionsFromConfig(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	if cfg.Session.IdleTimeout > 0 {
		s.idleTimeout = cfg.Session.IdleTimeout
	}
	for _, entry := range s.sessions {
		entry.session.ApplyOptions(opts)
	}
	logger.Log.Info("Session options reloaded", zap.String("post_submit", opts.Behavior.String()),
		zap.Int64("import_max_bytes", opts.MaxImportBytes))
}

func (s *SessionService) Behavior() PostSubmitBehavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Behavior
}
