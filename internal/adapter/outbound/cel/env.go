package cel

import (
	"net"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// NewRequestEnvironment creates the CEL environment route expressions are
// compiled against. It declares:
//   - Request variables: method, path, query, headers, remote_addr, remote_ip
//   - Custom functions: glob, ip_in_cidr
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("remote_addr", cel.StringType),
		cel.Variable("remote_ip", cel.StringType),

		// glob: shell-style pattern match, e.g. glob("/api/*/rows", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: ip_in_cidr(remote_ip, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),
	)
}

// BuildActivation maps a request to the variables declared by
// NewRequestEnvironment. Query and header maps hold the first value of each
// key; header names are lower-cased.
func BuildActivation(path string, s *session.Params) map[string]any {
	query := make(map[string]string)
	for _, p := range s.QueryPairs() {
		if _, seen := query[p.Key]; !seen {
			query[p.Key] = p.Value
		}
	}

	headers := make(map[string]string)
	for _, name := range s.HeaderNames() {
		headers[strings.ToLower(name)] = s.Header(name)
	}

	remoteIP := s.RemoteAddr()
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}

	return map[string]any{
		"method":      s.Method(),
		"path":        path,
		"query":       query,
		"headers":     headers,
		"remote_addr": s.RemoteAddr(),
		"remote_ip":   remoteIP,
	}
}
