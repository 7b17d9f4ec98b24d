package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"shopchat/internal/apperr"
	"shopchat/internal/message"
)

const (
	issuer   = "shopchat"
	maxColor = 5
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*User, error)
	FindExisting(ctx context.Context, ids []string) ([]string, error)
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
	ListOnline(ctx context.Context) ([]*User, error)
	ListExcept(ctx context.Context, id string) ([]*User, error)
	SearchUsers(ctx context.Context, term, exclude string) ([]*User, error)
}

// PartnerSource lists the users someone has exchanged direct messages with.
type PartnerSource interface {
	Partners(ctx context.Context, userID string) ([]message.Partner, error)
}

type Service struct {
	repo      Store
	partners  PartnerSource
	jwtSecret []byte
	tokenTTL  time.Duration
	hashCost  int
	now       func() time.Time
}

type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func NewService(repo Store, partners PartnerSource, secret string, ttl time.Duration) *Service {
	return &Service{
		repo:      repo,
		partners:  partners,
		jwtSecret: []byte(secret),
		tokenTTL:  ttl,
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Signup(ctx context.Context, req Credentials) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email address")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	u := &User{
		Email:    email,
		Password: string(hashedPwd),
		Name:     strings.SplitN(email, "@", 2)[0],
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, req Credentials) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	u, err := s.repo.GetUserByEmail(ctx, email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Validation("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Validation("invalid email or password")
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*AuthResponse, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: u.ID,
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	ss, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, apperr.Internal(err, "sign token")
	}
	return &AuthResponse{Token: ss, User: u}, nil
}

func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", "", errors.Wrap(err, "parse token")
	}
	if !token.Valid || claims.UserID == "" {
		return "", "", errors.New("invalid token")
	}
	return claims.UserID, claims.Email, nil
}

func (s *Service) UserInfo(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return nil, apperr.Validation("firstName and lastName are required")
	}
	if p.Color < 0 || p.Color > maxColor {
		return nil, apperr.Validation("color must be between 0 and %d", maxColor)
	}
	return s.repo.UpdateProfile(ctx, id, p)
}

func (s *Service) AllContacts(ctx context.Context, viewer string) ([]Contact, error) {
	users, err := s.repo.ListExcept(ctx, viewer)
	if err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, Contact{Label: u.DisplayName(), Value: u.ID})
	}
	return contacts, nil
}

func (s *Service) SearchContacts(ctx context.Context, viewer, term string) ([]*User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperr.Validation("searchTerm is required")
	}
	return s.repo.SearchUsers(ctx, term, viewer)
}

// ContactsForDM returns the viewer's direct message partners, most recent
// conversation first.
func (s *Service) ContactsForDM(ctx context.Context, viewer string) ([]DMContact, error) {
	partners, err := s.partners.Partners(ctx, viewer)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(partners))
	for _, p := range partners {
		ids = append(ids, p.UserID)
	}
	users, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	contacts := make([]DMContact, 0, len(partners))
	for _, p := range partners {
		if u, ok := byID[p.UserID]; ok {
			contacts = append(contacts, DMContact{User: u, LastMessageTime: p.LastMessageTime})
		}
	}
	return contacts, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, online bool) error {
	return s.repo.SetOnline(ctx, id, online, s.now())
}

func (s *Service) OnlineUsers(ctx context.Context) ([]*User, error) {
	return s.repo.ListOnline(ctx)
}
