package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	ticketdomain "github.com/smallbiznis/backoffice/internal/ticket/domain"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Authz      authorization.Service
	Repo       ticketdomain.Repository
	DemandRepo demanddomain.Repository
	ClientRepo clientdomain.Repository
	Notifier   notificationdomain.Dispatcher
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       ticketdomain.Repository
	demandRepo demanddomain.Repository
	clientRepo clientdomain.Repository
	notifier   notificationdomain.Dispatcher
}

func NewService(p Params) ticketdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ticket.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		demandRepo: p.DemandRepo,
		clientRepo: p.ClientRepo,
		notifier:   p.Notifier,
	}
}

func (s *Service) Open(ctx context.Context, req ticketdomain.OpenTicketRequest) (ticketdomain.SupportTicket, error) {
	actor, err := s.authorize(ctx, authorization.ActionTicketOpen)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ticketdomain.SupportTicket{}, ticketdomain.ErrInvalidMessage
	}

	clientID := actor.ClientID
	if !actor.IsClient() {
		clientID, err = parseID(req.ClientID, ticketdomain.ErrInvalidClient)
		if err != nil {
			return ticketdomain.SupportTicket{}, err
		}
		client, err := s.clientRepo.FindClientByID(ctx, s.db, clientID)
		if err != nil {
			return ticketdomain.SupportTicket{}, err
		}
		if client == nil {
			return ticketdomain.SupportTicket{}, clientdomain.ErrClientNotFound
		}
	}

	var domainID *snowflake.ID
	if strings.TrimSpace(req.DomainID) != "" {
		id, err := s.ownedDomain(ctx, req.DomainID, clientID)
		if err != nil {
			return ticketdomain.SupportTicket{}, err
		}
		domainID = &id
	}

	now := s.clock.Now()
	ticket := ticketdomain.SupportTicket{
		ID:        s.genID.Generate(),
		ClientID:  clientID,
		DomainID:  domainID,
		Message:   message,
		Status:    ticketdomain.TicketStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &ticket); err != nil {
		return ticketdomain.SupportTicket{}, err
	}

	log.With(ctx, s.log).Info("ticket opened",
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("client_id", ticket.ClientID.String()),
	)
	if err := s.notifier.NotifyAdmins(ctx, notificationdomain.Message{
		Type:  notificationdomain.TypeTicketOpened,
		Title: "New support ticket",
		Body:  summarize(ticket.Message),
	}); err != nil {
		s.warnNotify(ctx, ticket.ID, notificationdomain.TypeTicketOpened, err)
	}
	return ticket, nil
}

func (s *Service) Start(ctx context.Context, id string) (ticketdomain.SupportTicket, error) {
	return s.transition(ctx, id, ticketdomain.TicketStatusInProgress)
}

func (s *Service) Complete(ctx context.Context, id string) (ticketdomain.SupportTicket, error) {
	ticket, err := s.transition(ctx, id, ticketdomain.TicketStatusCompleted)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	if err := s.notifier.NotifyClient(ctx, ticket.ClientID, notificationdomain.Message{
		Type:  notificationdomain.TypeTicketCompleted,
		Title: "Support ticket resolved",
		Body:  summarize(ticket.Message),
	}); err != nil {
		s.warnNotify(ctx, ticket.ID, notificationdomain.TypeTicketCompleted, err)
	}
	return ticket, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (ticketdomain.SupportTicket, error) {
	return s.transition(ctx, id, ticketdomain.TicketStatusCanceled)
}

// ConvertToDemand spawns a pending demand from the ticket and moves an open ticket to in_progress.
func (s *Service) ConvertToDemand(ctx context.Context, req ticketdomain.ConvertTicketRequest) (ticketdomain.ConvertTicketResponse, error) {
	if _, err := s.authorize(ctx, authorization.ActionTicketConvert); err != nil {
		return ticketdomain.ConvertTicketResponse{}, err
	}
	ticketID, err := parseID(req.TicketID, ticketdomain.ErrInvalidTicket)
	if err != nil {
		return ticketdomain.ConvertTicketResponse{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return ticketdomain.ConvertTicketResponse{}, demanddomain.ErrInvalidTitle
	}
	if req.Hours.IsNegative() {
		return ticketdomain.ConvertTicketResponse{}, demanddomain.ErrInvalidHours
	}

	var resp ticketdomain.ConvertTicketResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := s.repo.FindByIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket == nil {
			return ticketdomain.ErrTicketNotFound
		}
		if !ticket.Convertible() {
			return ticketdomain.ErrInvalidStateTransition
		}

		domainID := ticket.DomainID
		if strings.TrimSpace(req.DomainID) != "" {
			id, err := parseID(req.DomainID, ticketdomain.ErrInvalidDomain)
			if err != nil {
				return err
			}
			domainID = &id
		}
		if domainID == nil {
			return ticketdomain.ErrDomainRequired
		}
		d, err := s.clientRepo.FindDomainByID(ctx, tx, *domainID)
		if err != nil {
			return err
		}
		if d == nil || d.ClientID != ticket.ClientID {
			return clientdomain.ErrDomainNotFound
		}

		now := s.clock.Now()
		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = ticket.Message
		}
		demand := demanddomain.NewPendingDemand(s.genID.Generate(), d.ID, d.ClientID, title, description, req.Hours, now)
		demand.TicketID = &ticket.ID
		if err := s.demandRepo.Insert(ctx, tx, &demand); err != nil {
			return err
		}

		if ticket.Status == ticketdomain.TicketStatusOpen {
			if err := ticket.TransitionTo(ticketdomain.TicketStatusInProgress); err != nil {
				return err
			}
			ticket.UpdatedAt = now
			if err := s.repo.UpdateStatus(ctx, tx, ticket.ID, ticket.Status, now); err != nil {
				return err
			}
		}

		resp = ticketdomain.ConvertTicketResponse{Ticket: *ticket, Demand: demand}
		return nil
	})
	if err != nil {
		return ticketdomain.ConvertTicketResponse{}, err
	}

	log.With(ctx, s.log).Info("ticket converted to demand",
		zap.String("ticket_id", resp.Ticket.ID.String()),
		zap.String("demand_id", resp.Demand.ID.String()),
	)
	demandID := resp.Demand.ID
	if err := s.notifier.NotifyClient(ctx, resp.Ticket.ClientID, notificationdomain.Message{
		Type:     notificationdomain.TypeTicketConverted,
		Title:    "Work scheduled",
		Body:     fmt.Sprintf("Your ticket became demand %q.", resp.Demand.Title),
		DemandID: &demandID,
	}); err != nil {
		s.warnNotify(ctx, resp.Ticket.ID, notificationdomain.TypeTicketConverted, err)
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (ticketdomain.SupportTicket, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	ticketID, err := parseID(id, ticketdomain.ErrInvalidTicket)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	ticket, err := s.repo.FindByID(ctx, s.db, ticketID)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	if ticket == nil || (actor.IsClient() && ticket.ClientID != actor.ClientID) {
		return ticketdomain.SupportTicket{}, ticketdomain.ErrTicketNotFound
	}
	return *ticket, nil
}

func (s *Service) List(ctx context.Context, req ticketdomain.ListTicketRequest) (ticketdomain.ListTicketResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return ticketdomain.ListTicketResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return ticketdomain.ListTicketResponse{}, err
	}
	filter := ticketdomain.ListFilter{Status: req.Status, AfterID: afterID, Limit: req.Limit()}
	if actor.IsClient() {
		clientID := actor.ClientID
		filter.ClientID = &clientID
	}
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return ticketdomain.ListTicketResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, filter.Limit, func(t *ticketdomain.SupportTicket) int64 { return t.ID.Int64() })
	if err != nil {
		return ticketdomain.ListTicketResponse{}, err
	}
	return ticketdomain.ListTicketResponse{PageInfo: pageInfo, Tickets: items}, nil
}

func (s *Service) transition(ctx context.Context, id string, next ticketdomain.TicketStatus) (ticketdomain.SupportTicket, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	ticketID, err := parseID(id, ticketdomain.ErrInvalidTicket)
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}

	var updated ticketdomain.SupportTicket
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := s.repo.FindByIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket == nil {
			return ticketdomain.ErrTicketNotFound
		}
		if err := ticket.TransitionTo(next); err != nil {
			return err
		}
		ticket.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, ticket.ID, ticket.Status, ticket.UpdatedAt); err != nil {
			return err
		}
		updated = *ticket
		return nil
	})
	if err != nil {
		return ticketdomain.SupportTicket{}, err
	}
	return updated, nil
}

func (s *Service) ownedDomain(ctx context.Context, raw string, clientID snowflake.ID) (snowflake.ID, error) {
	id, err := parseID(raw, ticketdomain.ErrInvalidDomain)
	if err != nil {
		return 0, err
	}
	d, err := s.clientRepo.FindDomainByID(ctx, s.db, id)
	if err != nil {
		return 0, err
	}
	if d == nil || d.ClientID != clientID {
		return 0, clientdomain.ErrDomainNotFound
	}
	return d.ID, nil
}

func (s *Service) warnNotify(ctx context.Context, ticketID snowflake.ID, typ notificationdomain.NotificationType, err error) {
	log.With(ctx, s.log).Warn("ticket notification failed",
		zap.String("ticket_id", ticketID.String()),
		zap.String("type", string(typ)),
		zap.Error(err),
	)
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectTicket, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func summarize(message string) string {
	const limit = 140
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit]) + "..."
}
