package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/interactive-solutions/go-notify"
)

const userColumns = `id,email,phone,push_token,first_name,last_name,role,status`

// SaveUser inserts or replaces a user, used for seeding the directory.
func (s *Store) SaveUser(ctx context.Context, user notify.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  email = excluded.email,
  phone = excluded.phone,
  push_token = excluded.push_token,
  first_name = excluded.first_name,
  last_name = excluded.last_name,
  role = excluded.role,
  status = excluded.status`,
		user.ID.String(), user.Email, user.Phone, user.PushToken, user.FirstName, user.LastName, user.Role, user.Status,
	)

	return notify.WrapStoreErr("save user", err)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (notify.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	return s.scanUser(row, "get user")
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (notify.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE LIMIT 1`, email)
	return s.scanUser(row, "find user")
}

func (s *Store) ActiveAdmins(ctx context.Context) ([]notify.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+userColumns+` FROM users
WHERE role IN (?, ?) AND status = 'active'
ORDER BY email ASC`, notify.RoleAdmin, notify.RoleSuperAdmin)
	if err != nil {
		return nil, notify.WrapStoreErr("list admins", err)
	}
	defer rows.Close()

	var admins []notify.User
	for rows.Next() {
		user, err := s.scanUser(rows, "list admins")
		if err != nil {
			return nil, err
		}
		admins = append(admins, user)
	}

	if err := rows.Err(); err != nil {
		return nil, notify.WrapStoreErr("list admins", err)
	}

	return admins, nil
}

func (s *Store) scanUser(row scanner, op string) (notify.User, error) {
	var (
		user notify.User
		id   string
	)

	err := row.Scan(&id, &user.Email, &user.Phone, &user.PushToken, &user.FirstName, &user.LastName, &user.Role, &user.Status)
	if err == sql.ErrNoRows {
		return notify.User{}, notify.RecipientNotFoundErr
	}
	if err != nil {
		return notify.User{}, notify.WrapStoreErr(op, err)
	}

	if user.ID, err = uuid.Parse(id); err != nil {
		return notify.User{}, notify.WrapStoreErr(op, err)
	}

	return user, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *notify.InAppNotification) error {
	templateData, err := encodeMap(n.TemplateData)
	if err != nil {
		return notify.WrapStoreErr("create notification", err)
	}

	metadata, err := encodeMap(n.Metadata)
	if err != nil {
		return notify.WrapStoreErr("create notification", err)
	}

	var jobID sql.NullString
	if n.JobID != uuid.Nil {
		jobID = sql.NullString{String: n.JobID.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO notifications
  (id,user_id,job_id,title,message,category,priority,action_url,cta_label,template_name,template_data,metadata,read_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID.String(), n.UserID.String(), jobID, n.Title, n.Message, n.Category, n.Priority,
		n.ActionURL, n.CtaLabel, n.TemplateName, templateData, metadata, nullNanos(n.ReadAt), nanos(n.CreatedAt),
	)

	return notify.WrapStoreErr("create notification", err)
}

// Notifications lists the in-app notifications of a user, newest first.
func (s *Store) Notifications(ctx context.Context, userID uuid.UUID) ([]notify.InAppNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,user_id,job_id,title,message,category,priority,action_url,cta_label,template_name,template_data,metadata,read_at,created_at
FROM notifications WHERE user_id = ? ORDER BY created_at DESC`, userID.String())
	if err != nil {
		return nil, notify.WrapStoreErr("list notifications", err)
	}
	defer rows.Close()

	var out []notify.InAppNotification
	for rows.Next() {
		var (
			n                  notify.InAppNotification
			id, user           string
			jobID              sql.NullString
			templateData, meta sql.NullString
			readAt             sql.NullInt64
			createdAt          int64
		)

		if err := rows.Scan(&id, &user, &jobID, &n.Title, &n.Message, &n.Category, &n.Priority,
			&n.ActionURL, &n.CtaLabel, &n.TemplateName, &templateData, &meta, &readAt, &createdAt); err != nil {
			return nil, notify.WrapStoreErr("list notifications", err)
		}

		n.ID, _ = uuid.Parse(id)
		n.UserID, _ = uuid.Parse(user)
		if jobID.Valid {
			n.JobID, _ = uuid.Parse(jobID.String)
		}

		if n.TemplateData, err = decodeMap(templateData); err != nil {
			return nil, notify.WrapStoreErr("list notifications", err)
		}
		if n.Metadata, err = decodeMap(meta); err != nil {
			return nil, notify.WrapStoreErr("list notifications", err)
		}

		n.ReadAt = timePtr(readAt)
		n.CreatedAt = fromNanos(createdAt)

		out = append(out, n)
	}

	return out, notify.WrapStoreErr("list notifications", rows.Err())
}

func (s *Store) GetTemplate(ctx context.Context, name string) (notify.Template, error) {
	var (
		tpl                  notify.Template
		enabled              int
		createdAt, updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, `
SELECT name,enabled,description,subject,text_body,html_body,created_at,updated_at
FROM notification_templates WHERE name = ?`, name).
		Scan(&tpl.Name, &enabled, &tpl.Description, &tpl.Subject, &tpl.TextBody, &tpl.HtmlBody, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return notify.Template{}, notify.TemplateNotFoundErr
	}
	if err != nil {
		return notify.Template{}, notify.WrapStoreErr("get template", err)
	}

	tpl.Enabled = enabled == 1
	tpl.CreatedAt = fromNanos(createdAt)
	tpl.UpdatedAt = fromNanos(updatedAt)

	return tpl, nil
}

func (s *Store) SaveTemplate(ctx context.Context, template *notify.Template) error {
	enabled := 0
	if template.Enabled {
		enabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO notification_templates (name,enabled,description,subject,text_body,html_body,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
  enabled = excluded.enabled,
  description = excluded.description,
  subject = excluded.subject,
  text_body = excluded.text_body,
  html_body = excluded.html_body,
  updated_at = excluded.updated_at`,
		template.Name, enabled, template.Description, template.Subject, template.TextBody, template.HtmlBody,
		nanos(template.CreatedAt), nanos(template.UpdatedAt),
	)

	return notify.WrapStoreErr("save template", err)
}
