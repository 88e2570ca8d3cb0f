// Package vfsname parses scheme-qualified virtual path names of the form
// scheme://[user[:secret]@]host[:port]/path.
package vfsname

import (
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Scheme is one URI scheme the parser accepts.
type Scheme struct {
	Name        string
	Variant     types.SchemeVariant
	DefaultPort int
}

// UserInfo carries credentials embedded in the authority.
type UserInfo struct {
	Username  string
	Secret    string
	HasSecret bool
}

// Name is a parsed virtual path. Names are comparable with ==.
type Name struct {
	Scheme  string
	Variant types.SchemeVariant
	User    UserInfo
	Host    string
	Port    int
	Path    string

	defaultPort int
}

// Parser parses names for a fixed set of schemes.
type Parser struct {
	schemes map[string]Scheme
}

// NewParser builds a parser. Scheme names are matched case-insensitively.
func NewParser(schemes ...Scheme) *Parser {
	p := &Parser{schemes: make(map[string]Scheme, len(schemes))}
	for _, s := range schemes {
		s.Name = strings.ToLower(s.Name)
		p.schemes[s.Name] = s
	}
	return p
}

// Schemes returns the registered scheme names.
func (p *Parser) Schemes() []string {
	out := make([]string, 0, len(p.schemes))
	for name := range p.schemes {
		out = append(out, name)
	}
	return out
}

// Scheme returns the registration for name.
func (p *Parser) Scheme(name string) (Scheme, bool) {
	s, ok := p.schemes[strings.ToLower(name)]
	return s, ok
}

// Parse parses uri into a Name.
func (p *Parser) Parse(uri string) (*Name, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, malformed(uri, "unparsable name", err)
	}

	scheme, ok := p.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, malformed(uri, "unregistered scheme "+strconv.Quote(u.Scheme), nil)
	}
	if u.Opaque != "" || !strings.Contains(uri, "://") {
		return nil, malformed(uri, "missing authority", nil)
	}

	if u.RawQuery != "" || u.ForceQuery {
		return nil, malformed(uri, "query not allowed in a path name", nil)
	}
	if u.Fragment != "" || strings.Contains(uri, "#") {
		return nil, malformed(uri, "fragment not allowed in a path name", nil)
	}

	host := u.Hostname()
	if host == "" {
		return nil, malformed(uri, "empty host", nil)
	}

	port := scheme.DefaultPort
	if ps := u.Port(); ps != "" {
		port, err = strconv.Atoi(ps)
		if err != nil || port < 1 || port > 65535 {
			return nil, malformed(uri, "invalid port "+strconv.Quote(ps), err)
		}
	} else if strings.HasSuffix(u.Host, ":") {
		return nil, malformed(uri, "empty port", nil)
	}

	clean, err := utils.CleanSlashPath(u.Path)
	if err != nil {
		return nil, malformed(uri, "path escapes root", err)
	}

	n := &Name{
		Scheme:      scheme.Name,
		Variant:     scheme.Variant,
		Host:        host,
		Port:        port,
		Path:        clean,
		defaultPort: scheme.DefaultPort,
	}
	if u.User != nil {
		n.User.Username = u.User.Username()
		n.User.Secret, n.User.HasSecret = u.User.Password()
	}
	return n, nil
}

func malformed(uri, reason string, cause error) error {
	err := errors.NewError(errors.ErrCodeMalformedName, reason).
		WithComponent("vfsname").
		WithOperation("Parse").
		WithContext("uri", Redact(uri))
	if cause != nil {
		err.WithCause(cause)
	}
	return err
}

// Redact hides any secret in the authority of uri.
func Redact(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.User != nil {
		return u.Redacted()
	}
	return uri
}

// Authority returns host:port, or just the host when no port is known.
func (n Name) Authority() string {
	if n.Port == 0 {
		if strings.Contains(n.Host, ":") {
			return "[" + n.Host + "]"
		}
		return n.Host
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// String renders the name. The port is omitted when it equals the scheme
// default.
func (n Name) String() string {
	u := url.URL{Scheme: n.Scheme, Path: n.Path}
	switch {
	case n.User.HasSecret:
		u.User = url.UserPassword(n.User.Username, n.User.Secret)
	case n.User.Username != "":
		u.User = url.User(n.User.Username)
	}
	if n.Port == 0 || n.Port == n.defaultPort {
		u.Host = Name{Host: n.Host}.Authority()
	} else {
		u.Host = n.Authority()
	}
	return u.String()
}

// Redacted renders the name with any secret masked.
func (n Name) Redacted() string {
	if n.User.HasSecret {
		n.User.Secret = "xxxxx"
	}
	return n.String()
}

// Root returns the name of the filesystem root on the same authority.
func (n Name) Root() Name {
	n.Path = "/"
	return n
}

// IsRoot reports whether the name addresses the filesystem root.
func (n Name) IsRoot() bool {
	return n.Path == "/"
}

// Child resolves rel against the name's path. Absolute rel replaces the path.
func (n Name) Child(rel string) (Name, error) {
	joined := rel
	if !strings.HasPrefix(rel, "/") {
		joined = n.Path + "/" + rel
	}
	clean, err := utils.CleanSlashPath(joined)
	if err != nil {
		return Name{}, malformed(n.Redacted()+" + "+rel, "path escapes root", err)
	}
	n.Path = clean
	return n, nil
}

// Segments returns the non-empty path elements.
func (n Name) Segments() []string {
	if n.Path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(n.Path, "/"), "/")
}

// BaseName returns the last path element, or "" for the root.
func (n Name) BaseName() string {
	if n.Path == "/" {
		return ""
	}
	return path.Base(n.Path)
}

// Parent returns the name of the containing folder. The root is its own parent.
func (n Name) Parent() Name {
	n.Path = path.Dir(n.Path)
	return n
}
