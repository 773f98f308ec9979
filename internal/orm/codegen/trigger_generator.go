package codegen

import (
	"fmt"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

const versionFunction = "persist_bump_version"

// TriggerGenerator generates the triggers that advance Version. Sessions
// never SET Version, so an UPDATE that leaves it unchanged gets it bumped.
type TriggerGenerator struct {
	target string
}

// NewTriggerGenerator creates a trigger generator for target
func NewTriggerGenerator(target string) *TriggerGenerator {
	return &TriggerGenerator{target: target}
}

// GenerateFunctions returns the shared trigger functions the target needs
func (g *TriggerGenerator) GenerateFunctions() []string {
	if g.target != Postgres {
		return nil
	}
	return []string{fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
  IF NEW.%s = OLD.%s THEN
    NEW.%s := OLD.%s + 1;
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;`, versionFunction,
		schema.FieldVersion, schema.FieldVersion, schema.FieldVersion, schema.FieldVersion)}
}

// GenerateDropFunctions drops the shared trigger functions
func (g *TriggerGenerator) GenerateDropFunctions() []string {
	if g.target != Postgres {
		return nil
	}
	return []string{fmt.Sprintf("DROP FUNCTION %s();", versionFunction)}
}

// GenerateVersionTrigger returns the Version trigger of one table
func (g *TriggerGenerator) GenerateVersionTrigger(m *schema.EntityMetadata) string {
	name := fmt.Sprintf("trg_%s_version", m.Table)
	v, id := schema.FieldVersion, schema.FieldID

	switch g.target {
	case SQLite:
		return fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s FOR EACH ROW WHEN NEW.%s = OLD.%s
BEGIN
  UPDATE %s SET %s = OLD.%s + 1 WHERE %s = OLD.%s;
END;`, name, m.Table, v, v, m.Table, v, v, id, id)

	case MySQL:
		return fmt.Sprintf("CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW SET NEW.%s = IF(NEW.%s = OLD.%s, OLD.%s + 1, NEW.%s);",
			name, m.Table, v, v, v, v, v)

	case SQLServer:
		return fmt.Sprintf(`CREATE TRIGGER %s ON %s AFTER UPDATE AS
BEGIN
  SET NOCOUNT ON;
  UPDATE t SET %s = d.%s + 1
  FROM %s t
  JOIN deleted d ON d.%s = t.%s
  JOIN inserted i ON i.%s = t.%s
  WHERE i.%s = d.%s;
END;`, name, m.Table, v, v, m.Table, id, id, id, id, v, v)

	default:
		return fmt.Sprintf("CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s();",
			name, m.Table, versionFunction)
	}
}
