// Package store is the dashboard's state container: one permission engine and
// one sync controller per collection, wired together and handed to whoever
// needs them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agencycrm/internal/config"
	"agencycrm/internal/events"
	"agencycrm/internal/gateway"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
	"agencycrm/internal/optimistic"
	"agencycrm/internal/permissions"
	"agencycrm/internal/poller"
	"agencycrm/internal/utils/logger"
)

// Backends are the remote stores the container reads and writes through.
type Backends struct {
	Permissions permissions.Backend
	Clients     optimistic.Remote[models.Client]
	Projects    optimistic.Remote[models.Project]
	Tasks       optimistic.Remote[models.Task]
	Campaigns   optimistic.Remote[models.Campaign]
	Content     optimistic.Remote[models.Content]
}

// RemoteBackends points every collection at the REST gateway.
func RemoteBackends(client *gateway.Client) Backends {
	return Backends{
		Permissions: gateway.NewPermissions(client),
		Clients:     gateway.NewCollection[models.Client](client, models.ResourceClients),
		Projects:    gateway.NewCollection[models.Project](client, models.ResourceProjects),
		Tasks:       gateway.NewCollection[models.Task](client, models.ResourceTasks),
		Campaigns:   gateway.NewCollection[models.Campaign](client, models.ResourceCampaigns),
		Content:     gateway.NewCollection[models.Content](client, models.ResourceContent),
	}
}

type Store struct {
	Permissions   *permissions.Engine
	Clients       *optimistic.Controller[models.Client]
	Projects      *optimistic.Controller[models.Project]
	Tasks         *optimistic.Controller[models.Task]
	Campaigns     *optimistic.Controller[models.Campaign]
	Content       *optimistic.Controller[models.Content]
	Notifications *notify.Center
	Bus           *events.EventBus

	log *logger.Logger
}

// New builds the container. Toasts go to the notification center and the
// console; settled mutations are published on bus.
func New(cfg config.CoreConfig, b Backends, bus *events.EventBus) *Store {
	log := logger.New("STORE")
	center := notify.NewCenter(cfg.NotificationBuffer)
	notifier := notify.Fanout{center, notify.NewLog(logger.New("TOAST"))}

	engine := permissions.NewEngine(b.Permissions, notifier, permissions.Options{Strict: cfg.StrictRoles})
	opts := func(noun string) optimistic.Options {
		return optimistic.Options{
			Noun:     noun,
			Timeout:  cfg.RemoteTimeout,
			Notifier: notifier,
			Bus:      bus,
			Gate:     engine,
		}
	}
	contentOpts := opts("Content")
	contentOpts.Columns = models.ContentColumnFields

	return &Store{
		Permissions:   engine,
		Clients:       optimistic.New(models.ResourceClients, b.Clients, opts("Client")),
		Projects:      optimistic.New(models.ResourceProjects, b.Projects, opts("Project")),
		Tasks:         optimistic.New(models.ResourceTasks, b.Tasks, opts("Task")),
		Campaigns:     optimistic.New(models.ResourceCampaigns, b.Campaigns, opts("Campaign")),
		Content:       optimistic.New(models.ResourceContent, b.Content, contentOpts),
		Notifications: center,
		Bus:           bus,
		log:           log,
	}
}

type loader interface {
	Load(ctx context.Context) error
}

// Load hydrates the permission tables first, then every collection. A failed
// collection does not stop the others; the errors are joined.
func (s *Store) Load(ctx context.Context) error {
	if err := s.Permissions.Load(ctx); err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	var errs []error
	for name, c := range s.collections() {
		if err := c.Load(ctx); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Success("Store loaded")
	return nil
}

func (s *Store) collections() map[models.Resource]loader {
	return map[models.Resource]loader{
		models.ResourceClients:   s.Clients,
		models.ResourceProjects:  s.Projects,
		models.ResourceTasks:     s.Tasks,
		models.ResourceCampaigns: s.Campaigns,
		models.ResourceContent:   s.Content,
	}
}

// Schedule registers a periodic refresh of the permission tables and of every
// collection.
func (s *Store) Schedule(sched *poller.Scheduler, interval time.Duration) error {
	if _, err := poller.Subscribe(sched, "permissions", interval, s.Permissions.Fetch, func(t permissions.Tables) {
		s.Permissions.Apply(t)
	}); err != nil {
		return err
	}
	if err := subscribe(sched, s.Clients, interval); err != nil {
		return err
	}
	if err := subscribe(sched, s.Projects, interval); err != nil {
		return err
	}
	if err := subscribe(sched, s.Tasks, interval); err != nil {
		return err
	}
	if err := subscribe(sched, s.Campaigns, interval); err != nil {
		return err
	}
	return subscribe(sched, s.Content, interval)
}

func subscribe[T models.Entity](sched *poller.Scheduler, c *optimistic.Controller[T], interval time.Duration) error {
	_, err := poller.Subscribe(sched, string(c.Resource()), interval, c.Fetch, func(snap optimistic.Snapshot[T]) {
		c.Apply(snap)
	})
	return err
}
