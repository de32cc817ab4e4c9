package dig_container

import (
	"context"
	"fmt"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"

	echoapi "github.com/emsu/emsu/apps/api/echo"
	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
	brokersvc "github.com/emsu/emsu/services/broker"
	emailsvc "github.com/emsu/emsu/services/email"
	logsvc "github.com/emsu/emsu/services/logger"
	"github.com/emsu/emsu/storage/database"
	inmemdb "github.com/emsu/emsu/storage/database/inmem"
	sqlxrepos "github.com/emsu/emsu/storage/database/sqlx"
)

const redisConnectTimeout = 5 * time.Second

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type (
	// Repositories are backed by Postgres, or kept in memory when conf.Database.Engine is "memory".
	Repositories struct {
		dig.Out
		Users         user.Repository
		Messages      messaging.Repository
		Notifications notification.Repository
		Announcements announcement.Repository
	}

	// Bus is the group fan-out: the local Dispatcher, or the Redis broker in front of it.
	Bus struct {
		dig.Out
		Publisher pubsub.Publisher
		Presence  pubsub.Presence
		Broker    *brokersvc.RedisBroker // nil without Redis
	}
)

type BusParam struct {
	dig.In
	Publisher pubsub.Publisher
	Presence  pubsub.Presence
}

func newStdLogger(conf *core.Config) *logrus.Logger {
	return logsvc.NewStdLogger(conf)
}

func newLogger(std *logrus.Logger, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(std *logrus.Logger, conf *core.Config) core.Logger {
	dbStd := logsvc.NewStdLogger(conf)
	dbStd.SetOutput(std.Out)
	dbStd.SetReportCaller(true)
	return logsvc.NewRollbarLogger(dbStd, conf)
}

// newDB returns nil when the in-memory engine is selected.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	if conf.Database.Engine == "memory" {
		return nil
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRepositories(db *sqlx.DB) Repositories {
	if db == nil {
		mem := inmemdb.Open()
		return Repositories{
			Users:         inmemdb.NewUserRepository(mem),
			Messages:      inmemdb.NewMessageRepository(mem),
			Notifications: inmemdb.NewNotificationRepository(mem),
			Announcements: inmemdb.NewAnnouncementRepository(mem),
		}
	}
	return Repositories{
		Users:         sqlxrepos.NewUserRepository(db),
		Messages:      sqlxrepos.NewMessageRepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Announcements: sqlxrepos.NewAnnouncementRepository(db),
	}
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	return validate
}

func newBus(conf *core.Config, dispatcher *pubsub.Dispatcher, logger core.Logger) Bus {
	if !conf.UsesRedis() {
		return Bus{Publisher: dispatcher, Presence: dispatcher}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	client, err := brokersvc.NewRedisClient(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	broker := brokersvc.NewRedisBroker(client, conf.Redis.Channel, dispatcher, logger)
	return Bus{Publisher: broker, Presence: broker, Broker: broker}
}

func newMessageService(
	repo messaging.Repository,
	users *user.Service,
	notifications *notification.Service,
	bus BusParam,
	mailer core.EmailService,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *messaging.Service {
	return messaging.NewService(messaging.Deps{
		Repo:          repo,
		Users:         users,
		Notifications: notifications,
		Publisher:     bus.Publisher,
		Presence:      bus.Presence,
		Mailer:        mailer,
		Validate:      validate,
		Translator:    translator,
		Logger:        logger,
	})
}

func newAnnouncementService(
	repo announcement.Repository,
	users *user.Service,
	notifications *notification.Service,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *announcement.Service {
	return announcement.NewService(repo, users, notifications, validate, translator, logger)
}

func newScheduler(conf *core.Config, svc *announcement.Service, logger core.Logger) *announcement.Scheduler {
	return announcement.NewScheduler(svc, conf.Scheduler.AnnouncementsAt, logger)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newStdLogger))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(emailsvc.NewService))

	must(c.Provide(pubsub.NewRegistry))
	must(c.Provide(pubsub.NewDispatcher))
	must(c.Provide(newBus))

	must(c.Provide(user.NewService))
	must(c.Provide(notification.NewService))
	must(c.Provide(newMessageService))
	must(c.Provide(newAnnouncementService))
	must(c.Provide(newScheduler))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
