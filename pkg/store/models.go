package store

import (
	"time"

	"github.com/spawnpoint/spawnpoint/pkg/types"
)

// Database models are kept separate from pkg/types so the domain
// structs stay free of persistence tags.

type userModel struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Username  string    `gorm:"column:username;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toType() *types.User {
	return &types.User{
		ID:        m.ID,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

type sessionModel struct {
	Token     string    `gorm:"column:token;primaryKey"`
	UserID    uint      `gorm:"column:user_id;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (sessionModel) TableName() string { return "sessions" }

func (m *sessionModel) toType() *types.Session {
	return &types.Session{
		Token:     m.Token,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func sessionModelFrom(s *types.Session) *sessionModel {
	return &sessionModel{
		Token:     s.Token,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

type taskModel struct {
	Name           string    `gorm:"column:name;primaryKey"`
	DockerfilePath string    `gorm:"column:dockerfile_path;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (taskModel) TableName() string { return "tasks" }

func (m *taskModel) toType() *types.Task {
	return &types.Task{
		Name:           m.Name,
		DockerfilePath: m.DockerfilePath,
		CreatedAt:      m.CreatedAt,
	}
}

type instanceModel struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TaskName    string    `gorm:"column:task_name;not null;index"`
	ContainerID string    `gorm:"column:container_id;not null"`
	Port        int       `gorm:"column:port;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`
	Status      string    `gorm:"column:status;not null;index"`
	Endpoint    string    `gorm:"column:endpoint;not null"`
	UserID      uint      `gorm:"column:user_id;not null;index"`
}

func (instanceModel) TableName() string { return "instances" }

func (m *instanceModel) toType() *types.Instance {
	return &types.Instance{
		ID:          m.ID,
		TaskName:    m.TaskName,
		ContainerID: m.ContainerID,
		Port:        m.Port,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		Status:      types.InstanceStatus(m.Status),
		Endpoint:    m.Endpoint,
		UserID:      m.UserID,
	}
}

func instanceModelFrom(inst *types.Instance) *instanceModel {
	return &instanceModel{
		ID:          inst.ID,
		TaskName:    inst.TaskName,
		ContainerID: inst.ContainerID,
		Port:        inst.Port,
		CreatedAt:   inst.CreatedAt,
		ExpiresAt:   inst.ExpiresAt,
		Status:      string(inst.Status),
		Endpoint:    inst.Endpoint,
		UserID:      inst.UserID,
	}
}
