// Package identity resolves phone numbers and assignee names to users and teams.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
	"gorm.io/gorm"
)

// Assignee is a quest owner resolved to either a user or a team.
type Assignee struct {
	Kind model.AssigneeKind `json:"kind"`
	Name string             `json:"name"`
}

func User(name string) Assignee { return Assignee{Kind: model.AssigneeUser, Name: name} }
func Team(name string) Assignee { return Assignee{Kind: model.AssigneeTeam, Name: name} }

func (a Assignee) String() string { return string(a.Kind) + ":" + a.Name }

// Directory is the user/team lookup backed by the identity tables.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// NormalizePhone strips the punctuation people type into phone numbers.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// CreateUser registers a player. Phone may be empty.
func (d *Directory) CreateUser(ctx context.Context, name, phone string, smsOptIn bool) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidRequest("user name is required")
	}
	if err := d.ensureFree(ctx, name); err != nil {
		return nil, err
	}
	u := &model.User{Name: name, Phone: NormalizePhone(phone), SMSOptIn: smsOptIn}
	if err := d.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "create user %q", name)
	}
	return u, nil
}

// CreateTeam registers an empty team.
func (d *Directory) CreateTeam(ctx context.Context, name string) (*model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidRequest("team name is required")
	}
	if err := d.ensureFree(ctx, name); err != nil {
		return nil, err
	}
	t := &model.Team{Name: name}
	if err := d.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "create team %q", name)
	}
	return t, nil
}

// ensureFree rejects names already taken by a user or a team, so an assignee
// name always resolves to exactly one of them.
func (d *Directory) ensureFree(ctx context.Context, name string) error {
	var n int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "check name %q", name)
	}
	if n == 0 {
		if err := d.db.WithContext(ctx).Model(&model.Team{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistenceFailure, err, "check name %q", name)
		}
	}
	if n > 0 {
		return apperr.InvalidRequest("name %q is already taken", name)
	}
	return nil
}

// AddMember puts a user in a team. Adding an existing member is a no-op.
func (d *Directory) AddMember(ctx context.Context, teamName, userName string) error {
	team, err := d.team(ctx, teamName)
	if err != nil {
		return err
	}
	user, err := d.user(ctx, userName)
	if err != nil {
		return err
	}
	m := model.TeamMember{TeamID: team.ID, UserID: user.ID}
	err = d.db.WithContext(ctx).Where(&m).FirstOrCreate(&m).Error
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "add %q to %q", userName, teamName)
	}
	return nil
}

// ResolveByPhone returns every user registered with the number. Several
// accounts may share one phone.
func (d *Directory) ResolveByPhone(ctx context.Context, phone string) ([]model.User, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	var users []model.User
	if err := d.db.WithContext(ctx).Where("phone = ?", phone).Order("id").Find(&users).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "resolve phone")
	}
	return users, nil
}

// ExpandToTeams returns the user's own name followed by every team the user belongs to.
func (d *Directory) ExpandToTeams(ctx context.Context, userName string) ([]string, error) {
	user, err := d.user(ctx, userName)
	if err != nil {
		return nil, err
	}
	var teams []string
	err = d.db.WithContext(ctx).
		Model(&model.Team{}).
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ?", user.ID).
		Order("teams.id").
		Pluck("teams.name", &teams).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "teams of %q", userName)
	}
	return append([]string{user.Name}, teams...), nil
}

// ResolveAssignee turns a bare name into a typed assignee.
func (d *Directory) ResolveAssignee(ctx context.Context, name string) (Assignee, error) {
	if _, err := d.user(ctx, name); err == nil {
		return User(name), nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Assignee{}, err
	}
	if _, err := d.team(ctx, name); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Assignee{}, apperr.NotFound("no user or team named %q", name)
		}
		return Assignee{}, err
	}
	return Team(name), nil
}

// Recipients lists the users an outbound message to a should reach: the user
// itself or the team's members, limited to those with a phone who opted in.
func (d *Directory) Recipients(ctx context.Context, a Assignee) ([]model.User, error) {
	var users []model.User
	switch a.Kind {
	case model.AssigneeUser:
		u, err := d.user(ctx, a.Name)
		if err != nil {
			return nil, err
		}
		users = []model.User{*u}
	case model.AssigneeTeam:
		team, err := d.team(ctx, a.Name)
		if err != nil {
			return nil, err
		}
		err = d.db.WithContext(ctx).
			Joins("JOIN team_members ON team_members.user_id = users.id").
			Where("team_members.team_id = ?", team.ID).
			Order("users.id").
			Find(&users).Error
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "members of %q", a.Name)
		}
	default:
		return nil, apperr.InvalidRequest("unknown assignee kind %q", a.Kind)
	}

	out := users[:0]
	for _, u := range users {
		if u.Phone != "" && u.SMSOptIn {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *Directory) user(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	err := d.db.WithContext(ctx).Where("name = ?", name).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "load user %q", name)
	}
	return &u, nil
}

func (d *Directory) team(ctx context.Context, name string) (*model.Team, error) {
	var t model.Team
	err := d.db.WithContext(ctx).Where("name = ?", name).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("team %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "load team %q", name)
	}
	return &t, nil
}
