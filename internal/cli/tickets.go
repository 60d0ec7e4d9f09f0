package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-service/internal/bootstrap"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/observability"
	"github.com/spec-kit/queue-service/internal/persistence"
	"github.com/spec-kit/queue-service/internal/service"
)

// TicketResult is the json output of the ticket commands.
type TicketResult struct {
	ID             string `json:"id"`
	DisplayNumber  string `json:"display_number"`
	DepartmentCode string `json:"department_code"`
	Status         string `json:"status"`
}

// engine is a dispatch service wired like the API's, minus HTTP. Events are
// relayed synchronously on the calling goroutine.
type engine struct {
	dispatch *service.DispatchService
	close    func()
}

func (o *RootOptions) openEngine(ctx context.Context) (*engine, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger(cfg)
	if err != nil {
		return nil, err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger, false)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	dir, err := bootstrap.LoadDirectory(cfg.Queue)
	if err != nil {
		store.Close()
		return nil, err
	}

	closers := []func(){store.Close}
	var publisher service.EventPublisher
	if cfg.Redis.Addr != "" {
		redis := persistence.NewRedis(cfg.Redis, logger)
		closers = append(closers, redis.Close)
		publisher = redis
	}

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger, publisher, cfg.Redis).RegisterHandlers()

	dispatch := service.NewDispatchService(service.DispatchDependencies{
		Store:                 store.Tickets,
		Directory:             dir,
		Dispatcher:            dispatcher,
		Metrics:               observability.NewMetrics(),
		Logger:                logger,
		DefaultCapacity:       cfg.Queue.DefaultCapacity,
		OneLiveTicketPerOwner: cfg.Queue.OneLiveTicketPerOwner,
	})

	return &engine{
		dispatch: dispatch,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			_ = logger.Sync()
		},
	}, nil
}

type ticketAction func(ctx context.Context, dispatch *service.DispatchService, actor domain.Actor, arg string) (*domain.Ticket, error)

// newTicketCommand builds a command that runs one dispatch operation as the
// system actor, which bypasses ownership and department checks.
func newTicketCommand(rootOpts *RootOptions, use, short string, action ticketAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := rootOpts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			ticket, err := action(cmd.Context(), eng.dispatch, domain.SystemActor(), args[0])
			if err != nil {
				return err
			}
			result := TicketResult{
				ID:             ticket.ID,
				DisplayNumber:  ticket.DisplayNumber(),
				DepartmentCode: ticket.DepartmentCode,
				Status:         string(ticket.Status),
			}
			return rootOpts.emit(cmd.OutOrStdout(), result,
				fmt.Sprintf("%s %s %s", result.DisplayNumber, result.Status, result.ID))
		},
	}
}

// NewCallNextCommand creates the call-next command.
func NewCallNextCommand(rootOpts *RootOptions) *cobra.Command {
	return newTicketCommand(rootOpts, "call-next <department-code>", "Call the oldest waiting ticket of a department",
		func(ctx context.Context, dispatch *service.DispatchService, actor domain.Actor, code string) (*domain.Ticket, error) {
			return dispatch.CallNext(ctx, actor, code)
		})
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return newTicketCommand(rootOpts, "complete <ticket-id>", "End service of an in-service ticket",
		func(ctx context.Context, dispatch *service.DispatchService, actor domain.Actor, id string) (*domain.Ticket, error) {
			return dispatch.EndService(ctx, actor, id)
		})
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return newTicketCommand(rootOpts, "cancel <ticket-id>", "Cancel a live ticket",
		func(ctx context.Context, dispatch *service.DispatchService, actor domain.Actor, id string) (*domain.Ticket, error) {
			return dispatch.CancelTicket(ctx, actor, id)
		})
}
