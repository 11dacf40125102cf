package webapp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

const (
	sessionCookie = "f360_session"

	contextSessionKey = "session"
	contextUserKey    = "user"
)

var errLoginRequired = errors.New("login required")

// Claims is the session payload stored in the signed session cookie: role, id (sub) and name,
// plus the expiry that bounds the life of the cookie.
type Claims struct {
	jwt.StandardClaims
	Role user.Role `json:"role"`
	Name string    `json:"name"`
}

func (c Claims) Session() (user.Session, error) {
	id, err := strconv.Atoi(c.Subject)
	if err != nil || !c.Role.Valid() {
		return user.Session{}, errors.New("invalid session claims")
	}
	return user.Session{Role: c.Role, ID: id, Name: c.Name}, nil
}

func NewClaims(sess user.Session, conf *core.Config) *Claims {
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.Itoa(sess.ID),
			ExpiresAt: time.Now().Add(conf.Server.SessionExpirationDelta).Unix(),
		},
		Role: sess.Role,
		Name: sess.Name,
	}
}

// GenerateToken signs claims with the app secret key.
func GenerateToken(claims *Claims, conf *core.Config) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	return ss, errors.Wrap(err, "signing token")
}

func parseToken(raw string, conf *core.Config) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(conf.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) login(ctx echo.Context, usr user.User) error {
	sess := user.SessionOf(usr)
	token, err := GenerateToken(NewClaims(sess, s.opts.Conf), s.opts.Conf)
	if err != nil {
		return err
	}
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.opts.Conf.Server.SessionExpirationDelta),
		HttpOnly: true,
		Secure:   !s.opts.Conf.Debug,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) logout(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	ctx.Set(contextSessionKey, nil)
	ctx.Set(contextUserKey, nil)
}

// loadSession resolves the session cookie into the current account.
// A session whose account no longer exists is logged out.
func (s *Server) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		cookie, err := ctx.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			return next(ctx)
		}
		claims, err := parseToken(cookie.Value, s.opts.Conf)
		if err != nil {
			s.logout(ctx)
			return next(ctx)
		}
		sess, err := claims.Session()
		if err != nil {
			s.logout(ctx)
			return next(ctx)
		}
		usr, err := s.opts.Users.Get(ctx.Request().Context(), sess.Role, sess.ID)
		if err != nil {
			if !core.IsNotFound(err) {
				return errors.Wrap(err, "getting session account")
			}
			s.logout(ctx)
			s.addFlash(ctx, flashWarning, "Sua sessão expirou. Entre novamente.")
			return next(ctx)
		}
		sess = user.SessionOf(usr)
		ctx.Set(contextSessionKey, &sess)
		ctx.Set(contextUserKey, usr)
		return next(ctx)
	}
}

func contextSession(ctx echo.Context) (user.Session, bool) {
	if sess, ok := ctx.Get(contextSessionKey).(*user.Session); ok && sess != nil {
		return *sess, true
	}
	return user.Session{}, false
}

func contextUser(ctx echo.Context) (user.User, bool) {
	usr, ok := ctx.Get(contextUserKey).(user.User)
	return usr, ok && usr != nil
}

// requireLogin redirects anonymous requests to the login page.
func requireLogin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, ok := contextSession(ctx); !ok {
			return errLoginRequired
		}
		return next(ctx)
	}
}

// requireRole rejects sessions whose role is not one of roles.
func requireRole(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess, ok := contextSession(ctx)
			if !ok {
				return errLoginRequired
			}
			for _, role := range roles {
				if sess.Role == role {
					return next(ctx)
				}
			}
			return core.NewPermissionError("esta página não está disponível para o seu perfil")
		}
	}
}

var requireStaff = requireRole(user.RoleProfessor, user.RoleCoordinator, user.RoleAdmin)
