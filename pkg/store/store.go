package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spawnpoint/spawnpoint/pkg/types"
)

// ErrQuotaExceeded is returned by CreateInstanceForUser when the user
// already has the maximum number of running instances.
var ErrQuotaExceeded = errors.New("instance limit reached")

// Store is the shared SQL persistence layer. The gateway and the
// reaper open independent Stores against the same database; all
// cross-process coordination happens through it.
type Store struct {
	db *gorm.DB
}

// FindOrCreateUser returns the user with the given username, creating
// it on first sight. Concurrent first-time requests for the same
// username resolve to a single row via the unique index.
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (*types.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&m).Error
	if err == nil {
		return m.toType(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find user %q: %w", username, err)
	}

	m = userModel{Username: username, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		// Lost a race with a concurrent insert; the unique index
		// guarantees the existing row is the one we want.
		var existing userModel
		if ferr := s.db.WithContext(ctx).Where("username = ?", username).First(&existing).Error; ferr == nil {
			return existing.toType(), nil
		}
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return m.toType(), nil
}

// CreateSession persists a new bearer token.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	if err := s.db.WithContext(ctx).Create(sessionModelFrom(sess)).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindValidSessionForUser returns the user's newest unexpired session,
// or nil if none exists. Token issuance reuses it instead of minting
// a fresh token per request.
func (s *Store) FindValidSessionForUser(ctx context.Context, userID uint, now time.Time) (*types.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("expires_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session for user %d: %w", userID, err)
	}
	return m.toType(), nil
}

// ValidateSession resolves a bearer token to its user. Unknown and
// expired tokens both return nil without error.
func (s *Store) ValidateSession(ctx context.Context, token string, now time.Time) (*types.User, error) {
	var sess sessionModel
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, now).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("validate session: %w", err)
	}

	var user userModel
	if err := s.db.WithContext(ctx).Where("id = ?", sess.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session user %d: %w", sess.UserID, err)
	}
	return user.toType(), nil
}

// EnsureTask registers a task discovered on disk, updating the
// Dockerfile path if the task moved since the last scan.
func (s *Store) EnsureTask(ctx context.Context, name, dockerfilePath string) error {
	m := taskModel{Name: name, DockerfilePath: dockerfilePath, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"dockerfile_path"}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("ensure task %q: %w", name, err)
	}
	return nil
}

// FindTask returns the named task, or nil if it was never registered.
func (s *Store) FindTask(ctx context.Context, name string) (*types.Task, error) {
	var m taskModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find task %q: %w", name, err)
	}
	return m.toType(), nil
}

// ListTasks returns all registered tasks ordered by name.
func (s *Store) ListTasks(ctx context.Context) ([]types.Task, error) {
	var models []taskModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]types.Task, len(models))
	for i := range models {
		tasks[i] = *models[i].toType()
	}
	return tasks, nil
}

// CreateInstanceForUser inserts a new instance for the user, but only
// if the user is below maxRunning running instances. The count and
// the insert happen in one serializable transaction so two concurrent
// deploys cannot both slip under the quota. On success the instance's
// ID and UserID are filled in.
func (s *Store) CreateInstanceForUser(ctx context.Context, inst *types.Instance, userID uint, maxRunning int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&instanceModel{}).
			Where("user_id = ? AND status = ?", userID, string(types.StatusRunning)).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count running instances: %w", err)
		}
		if count >= int64(maxRunning) {
			return ErrQuotaExceeded
		}

		m := instanceModelFrom(inst)
		m.UserID = userID
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		inst.ID = m.ID
		inst.UserID = userID
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("create instance for user %d: %w", userID, err)
	}
	return nil
}

// FindInstanceByID returns the instance, or nil if it does not exist.
func (s *Store) FindInstanceByID(ctx context.Context, id uint) (*types.Instance, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find instance %d: %w", id, err)
	}
	return m.toType(), nil
}

// FindRunningInstanceByPort returns the running instance holding the
// given host port, or nil if no running instance uses it. The reaper
// uses this to tell an orphaned port reservation from a live one.
func (s *Store) FindRunningInstanceByPort(ctx context.Context, port int) (*types.Instance, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).
		Where("port = ? AND status = ?", port, string(types.StatusRunning)).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find running instance on port %d: %w", port, err)
	}
	return m.toType(), nil
}

// CountRunningInstancesForUser counts the user's running instances.
func (s *Store) CountRunningInstancesForUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&instanceModel{}).
		Where("user_id = ? AND status = ?", userID, string(types.StatusRunning)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count running instances for user %d: %w", userID, err)
	}
	return count, nil
}

// CountRunningInstances counts running instances across all users.
func (s *Store) CountRunningInstances(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&instanceModel{}).
		Where("status = ?", string(types.StatusRunning)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count running instances: %w", err)
	}
	return count, nil
}

// ListInstancesForUser returns the user's running instances, newest
// first. Stopped and expired instances are never shown to clients.
func (s *Store) ListInstancesForUser(ctx context.Context, userID uint) ([]types.Instance, error) {
	var models []instanceModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(types.StatusRunning)).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list instances for user %d: %w", userID, err)
	}
	instances := make([]types.Instance, len(models))
	for i := range models {
		instances[i] = *models[i].toType()
	}
	return instances, nil
}

// ListExpiredInstances returns running instances whose expiry has
// passed. The reaper sweeps these.
func (s *Store) ListExpiredInstances(ctx context.Context, now time.Time) ([]types.Instance, error) {
	var models []instanceModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(types.StatusRunning), now).
		Order("expires_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list expired instances: %w", err)
	}
	instances := make([]types.Instance, len(models))
	for i := range models {
		instances[i] = *models[i].toType()
	}
	return instances, nil
}

// UpdateInstance writes back every field of the instance by ID.
func (s *Store) UpdateInstance(ctx context.Context, inst *types.Instance) error {
	if inst.ID == 0 {
		return fmt.Errorf("update instance: missing id")
	}
	if err := s.db.WithContext(ctx).Save(instanceModelFrom(inst)).Error; err != nil {
		return fmt.Errorf("update instance %d: %w", inst.ID, err)
	}
	return nil
}

// UpdateInstanceStatus sets only the status column. Updating a
// missing instance is not an error; the reaper may race a manual stop.
func (s *Store) UpdateInstanceStatus(ctx context.Context, id uint, status types.InstanceStatus) error {
	err := s.db.WithContext(ctx).Model(&instanceModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		return fmt.Errorf("update instance %d status: %w", id, err)
	}
	return nil
}
