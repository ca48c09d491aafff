package service

import (
	"attendance_console/internal/config"
	"attendance_console/internal/model"
	"attendance_console/pkg/logger"
	"context"
	"sync"

	"go.uber.org/zap"
)

type ClassLister interface {
	ListClasses(ctx context.Context) ([]model.Class, error)
}

// ClassService 班级下拉框的数据来源：优先远端，失败时用配置
type ClassService struct {
	mu       sync.RWMutex
	source   ClassLister
	fallback []model.Class
}

func NewClassService(source ClassLister, cfg *config.Config) *ClassService {
	s := &ClassService{source: source}
	s.ApplyConfig(cfg)
	return s
}

func (s *ClassService) ApplyConfig(cfg *config.Config) {
	classes := make([]model.Class, 0, len(cfg.Classes))
	for _, c := range cfg.Classes {
		classes = append(classes, model.Class{ID: c.ID, Grade: c.Grade, Name: c.Name})
	}
	s.mu.Lock()
	s.fallback = classes
	s.mu.Unlock()
}

func (s *ClassService) ListClasses(ctx context.Context) []model.Class {
	if s.source != nil {
		classes, err := s.source.ListClasses(ctx)
		if err != nil {
			logger.Log.Warn("Failed to list classes from remote, using configured classes", zap.Error(err))
		} else if classes != nil {
			return classes
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Class(nil), s.fallback...)
}
