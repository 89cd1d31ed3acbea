package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/validation"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// User is an account known to the provider.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Email: u.Email, Role: u.Role}
}

type RegisterInput struct {
	Email       string `json:"email"       validate:"required,email"`
	Password    string `json:"password"    validate:"required,min=6"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
}

// InputError carries per-field problems with a registration.
type InputError struct {
	Fields map[string][]string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%+v", e.Fields)
}

type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

type Event struct {
	Kind      EventKind
	Principal Principal
	At        time.Time
}

type storage interface {
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type Config struct {
	Secret     []byte
	TokenTTL   time.Duration
	Issuer     string
	BcryptCost int
}

type claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// Provider registers users, issues signed session tokens and notifies listeners
// about sign-in and sign-out.
type Provider struct {
	l        *logger.Logger
	storage  storage
	conf     Config
	validate *validator.Validate
	now      func() time.Time

	mu        sync.Mutex
	revoked   map[string]time.Time
	listeners map[int]func(Event)
	nextID    int
}

func New(l *logger.Logger, storage storage, conf Config) *Provider {
	if conf.TokenTTL == 0 {
		conf.TokenTTL = 24 * time.Hour //nolint:gomnd
	}

	if conf.BcryptCost == 0 {
		conf.BcryptCost = bcrypt.DefaultCost
	}

	if conf.Issuer == "" {
		conf.Issuer = "bnb"
	}

	//nolint:exhaustruct
	return &Provider{
		l:         l,
		storage:   storage,
		conf:      conf,
		validate:  validation.New(),
		now:       time.Now,
		revoked:   make(map[string]time.Time),
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for sign-in and sign-out events and returns its unsubscribe func.
func (p *Provider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.listeners, id)
	}
}

func (p *Provider) emit(kind EventKind, principal Principal) {
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.listeners))

	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	ev := Event{Kind: kind, Principal: principal, At: p.now().UTC()}
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) Register(ctx context.Context, input RegisterInput, role Role) (*User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	if err := p.validate.Struct(input); err != nil {
		if fields := validation.Fields(err); fields != nil {
			return nil, &InputError{Fields: fields}
		}

		return nil, fmt.Errorf("validate registration: %w", err)
	}

	if role != RoleAdmin {
		role = RoleGuest
	}

	if _, err := p.storage.GetUserByEmail(ctx, input.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), p.conf.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := p.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := p.storage.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	p.l.LogInfo("User %s registered with role %s", user.ID, user.Role)

	return user, nil
}

// SignIn checks credentials and returns a signed session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, *User, error) {
	user, err := p.storage.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}

	if err != nil {
		return "", nil, fmt.Errorf("get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := p.issue(user)
	if err != nil {
		return "", nil, err
	}

	p.emit(SignedIn, user.Principal())

	return token, user, nil
}

func (p *Provider) issue(user *User) (string, error) {
	now := p.now().UTC()
	c := claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    p.conf.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.conf.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.conf.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

func (p *Provider) parse(token string) (*claims, error) {
	c := &claims{}

	parsed, err := jwt.ParseWithClaims(
		token,
		c,
		func(_ *jwt.Token) (any, error) {
			return p.conf.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.conf.Issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	p.mu.Lock()
	_, revoked := p.revoked[c.ID]
	p.mu.Unlock()

	if revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}

	return c, nil
}

// Verify returns the principal a session token was issued to.
func (p *Provider) Verify(_ context.Context, token string) (Principal, error) {
	c, err := p.parse(token)
	if err != nil {
		return Principal{}, err
	}

	return Principal{ID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// SignOut revokes a token until it would have expired anyway.
func (p *Provider) SignOut(_ context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()

	for id, exp := range p.revoked {
		if exp.Before(now) {
			delete(p.revoked, id)
		}
	}

	p.revoked[c.ID] = c.ExpiresAt.Time
	p.mu.Unlock()

	p.emit(SignedOut, Principal{ID: c.Subject, Email: c.Email, Role: c.Role})

	return nil
}

func (p *Provider) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := p.storage.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	return user, nil
}
