package conn

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"

	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// PlaceholderStyle is how a driver spells positional parameters
type PlaceholderStyle int

const (
	// Question renders every parameter as ?
	Question PlaceholderStyle = iota
	// Dollar renders parameters as $1, $2, ...
	Dollar
)

// Driver describes how statements are rendered for one database/sql driver
type Driver struct {
	Name        string
	Placeholder PlaceholderStyle
	// Returning fetches generated identities with RETURNING instead of LastInsertId
	Returning bool
	Dialect   query.Dialect
}

var drivers = map[string]Driver{
	"pgx":      {Name: "pgx", Placeholder: Dollar, Returning: true, Dialect: query.Postgres},
	"postgres": {Name: "postgres", Placeholder: Dollar, Returning: true, Dialect: query.Postgres},
	"sqlite3":  {Name: "sqlite3", Placeholder: Question, Dialect: query.SQLite},
	"mysql":    {Name: "mysql", Placeholder: Question, Dialect: query.MySQL},
}

// LookupDriver returns the profile of a registered driver name
func LookupDriver(name string) (Driver, error) {
	d, ok := drivers[strings.ToLower(name)]
	if !ok {
		return Driver{}, fmt.Errorf("unsupported driver: %s", name)
	}
	return d, nil
}

// Drivers returns the supported driver names
func Drivers() []string {
	return []string{"pgx", "postgres", "sqlite3", "mysql"}
}

// Rewrite renders a command for the driver: named @parameters become
// positional placeholders with their values in occurrence order, and the
// short DELETE form gains its FROM.
func (d Driver) Rewrite(q *query.Query) (string, []interface{}, error) {
	values := make(map[string]interface{}, len(q.Parameters))
	for _, p := range q.Parameters {
		values[p.Name] = p.Value
	}

	command := q.Command
	if strings.HasPrefix(command, "DELETE ") && !strings.HasPrefix(command, "DELETE FROM ") {
		command = "DELETE FROM " + strings.TrimPrefix(command, "DELETE ")
	}

	var (
		sb     strings.Builder
		args   []interface{}
		quoted bool
		text   = []rune(command)
	)
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		r := text[i]
		if r == '\'' {
			quoted = !quoted
		}
		if r != '@' || quoted {
			sb.WriteRune(r)
			continue
		}

		j := i + 1
		for j < len(text) && isIdentRune(text[j]) {
			j++
		}
		if j == i+1 {
			sb.WriteRune(r)
			continue
		}
		name := string(text[i:j])
		v, ok := values[name]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnboundParameter, name)
		}
		args = append(args, v)
		if d.Placeholder == Dollar {
			sb.WriteString("$" + strconv.Itoa(len(args)))
		} else {
			sb.WriteByte('?')
		}
		i = j - 1
	}
	return sb.String(), args, nil
}

// insertCommand appends the identity clause for drivers that use RETURNING
func (d Driver) insertCommand(command string) string {
	if !d.Returning {
		return command
	}
	return strings.TrimSuffix(strings.TrimSpace(command), ";") + " RETURNING " + schema.FieldID
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
