package gopg

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"

	"github.com/interactive-solutions/go-notify"
)

type userWrapper struct {
	TableName struct{} `sql:"users,alias:u" json:"-"`

	ID        string
	Email     string
	Phone     string
	PushToken string
	FirstName string
	LastName  string
	Role      string
	Status    string
}

func (w *userWrapper) user() (notify.User, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return notify.User{}, err
	}

	return notify.User{
		ID:        id,
		Email:     w.Email,
		Phone:     w.Phone,
		PushToken: w.PushToken,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Role:      w.Role,
		Status:    w.Status,
	}, nil
}

func (s *Store) findUser(ctx context.Context, op, where string, param interface{}) (notify.User, error) {
	wrapped := &userWrapper{}

	if err := s.db.WithContext(ctx).Model(wrapped).Where(where, param).Limit(1).Select(); err != nil {
		if err == pg.ErrNoRows {
			return notify.User{}, notify.RecipientNotFoundErr
		}

		return notify.User{}, notify.WrapStoreErr(op, err)
	}

	user, err := wrapped.user()
	if err != nil {
		return notify.User{}, notify.WrapStoreErr(op, err)
	}

	return user, nil
}

// SaveUser inserts or replaces a user, used for seeding the directory.
func (s *Store) SaveUser(ctx context.Context, user notify.User) error {
	_, err := s.db.WithContext(ctx).Exec(`
		INSERT INTO users (id, email, phone, push_token, first_name, last_name, role, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			push_token = EXCLUDED.push_token,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			role = EXCLUDED.role,
			status = EXCLUDED.status`,
		user.ID.String(), user.Email, user.Phone, user.PushToken, user.FirstName, user.LastName, user.Role, user.Status,
	)

	return notify.WrapStoreErr("save user", err)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (notify.User, error) {
	return s.findUser(ctx, "get user", "id = ?", id.String())
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (notify.User, error) {
	return s.findUser(ctx, "find user", "LOWER(email) = LOWER(?)", email)
}

func (s *Store) ActiveAdmins(ctx context.Context) ([]notify.User, error) {
	var wrapped []userWrapper

	err := s.db.WithContext(ctx).Model(&wrapped).
		Where("role IN (?)", pg.In([]string{notify.RoleAdmin, notify.RoleSuperAdmin})).
		Where("status = 'active'").
		Order("email ASC").
		Select()
	if err != nil && err != pg.ErrNoRows {
		return nil, notify.WrapStoreErr("list admins", err)
	}

	admins := make([]notify.User, 0, len(wrapped))
	for i := range wrapped {
		user, err := wrapped[i].user()
		if err != nil {
			return nil, notify.WrapStoreErr("list admins", err)
		}
		admins = append(admins, user)
	}

	return admins, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *notify.InAppNotification) error {
	var jobID interface{}
	if n.JobID != uuid.Nil {
		jobID = n.JobID.String()
	}

	_, err := s.db.WithContext(ctx).Exec(`
		INSERT INTO notifications
			(id, user_id, job_id, title, message, category, priority, action_url, cta_label,
			 template_name, template_data, metadata, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.UserID.String(), jobID, n.Title, n.Message, n.Category, n.Priority,
		n.ActionURL, n.CtaLabel, n.TemplateName, n.TemplateData, n.Metadata, n.ReadAt, n.CreatedAt,
	)

	return notify.WrapStoreErr("create notification", err)
}

type templateWrapper struct {
	TableName struct{} `sql:"notification_templates,alias:nt" json:"-"`

	Name        string `sql:",pk"`
	Enabled     bool   `sql:",notnull"`
	Description string
	Subject     string
	TextBody    string
	HtmlBody    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) GetTemplate(ctx context.Context, name string) (notify.Template, error) {
	wrapped := &templateWrapper{}

	if err := s.db.WithContext(ctx).Model(wrapped).Where("name = ?", name).Select(); err != nil {
		if err == pg.ErrNoRows {
			return notify.Template{}, notify.TemplateNotFoundErr
		}

		return notify.Template{}, notify.WrapStoreErr("get template", err)
	}

	return notify.Template{
		Name:        wrapped.Name,
		Enabled:     wrapped.Enabled,
		Description: wrapped.Description,
		Subject:     wrapped.Subject,
		TextBody:    wrapped.TextBody,
		HtmlBody:    wrapped.HtmlBody,
		CreatedAt:   wrapped.CreatedAt.UTC(),
		UpdatedAt:   wrapped.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) SaveTemplate(ctx context.Context, template *notify.Template) error {
	_, err := s.db.WithContext(ctx).Exec(`
		INSERT INTO notification_templates
			(name, enabled, description, subject, text_body, html_body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			description = EXCLUDED.description,
			subject = EXCLUDED.subject,
			text_body = EXCLUDED.text_body,
			html_body = EXCLUDED.html_body,
			updated_at = EXCLUDED.updated_at`,
		template.Name, template.Enabled, template.Description, template.Subject,
		template.TextBody, template.HtmlBody, template.CreatedAt, template.UpdatedAt,
	)

	return notify.WrapStoreErr("save template", err)
}
