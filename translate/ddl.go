package translate

import (
	"strconv"
	"strings"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// ddlRule parses CREATE, ALTER and DROP statements into a schema change and
// renders the engine DDL for it.
type ddlRule struct{}

func (r *ddlRule) Name() string  { return "DDL" }
func (r *ddlRule) Priority() int { return 95 }

func (r *ddlRule) Apply(s *state) (bool, error) {
	if !s.kind.DDL() {
		return false, nil
	}
	p := &ddlParser{s: s, toks: s.toks}
	change, err := p.parse()
	if err != nil {
		return false, err
	}
	s.change = change
	s.table = change.Table
	return true, nil
}

// constraint is a PRIMARY KEY, UNIQUE or REFERENCES clause.
type constraint struct {
	index *accessfile.IndexMeta
	rel   *accessfile.Relationship
}

type ddlParser struct {
	s    *state
	toks []token
	i    int
}

func (p *ddlParser) eof() bool { return p.i >= len(p.toks) }

func (p *ddlParser) peek() token {
	if p.eof() {
		return token{pos: -1}
	}
	return p.toks[p.i]
}

func (p *ddlParser) errorf(format string, args ...interface{}) error {
	if p.eof() {
		return fail(p.s.sql, format, args...)
	}
	return failAt(p.s.sql, p.peek(), format, args...)
}

func (p *ddlParser) accept(words ...string) bool {
	for k, w := range words {
		if p.i+k >= len(p.toks) || !p.toks[p.i+k].is(w) {
			return false
		}
	}
	p.i += len(words)
	return true
}

func (p *ddlParser) expect(words ...string) error {
	if !p.accept(words...) {
		return p.errorf("expected %s", strings.Join(words, " "))
	}
	return nil
}

func (p *ddlParser) acceptOp(o string) bool {
	if p.peek().isOp(o) {
		p.i++
		return true
	}
	return false
}

func (p *ddlParser) expectOp(o string) error {
	if !p.acceptOp(o) {
		return p.errorf("expected %s", o)
	}
	return nil
}

func (p *ddlParser) name() (string, error) {
	t := p.peek()
	if !t.isName() {
		return "", p.errorf("expected a name")
	}
	p.i++
	return t.name(), nil
}

// nameList reads "(a, b, ...)" with optional ASC or DESC after each name.
func (p *ddlParser) nameList() ([]string, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		if !p.accept("ASC") {
			p.accept("DESC")
		}
		if p.acceptOp(",") {
			continue
		}
		return names, p.expectOp(")")
	}
}

// table resolves an existing table.
func (p *ddlParser) table() (*mirror.Table, error) {
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	t, ok := p.s.mirror.Lookup(n)
	if !ok {
		return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: n}
	}
	return t, nil
}

func (p *ddlParser) parse() (*mirror.SchemaChange, error) {
	var (
		c   *mirror.SchemaChange
		err error
	)
	switch {
	case p.accept("CREATE", "TABLE"):
		c, err = p.createTable()
	case p.accept("CREATE", "UNIQUE", "INDEX"):
		c, err = p.createIndex(true)
	case p.accept("CREATE", "INDEX"):
		c, err = p.createIndex(false)
	case p.accept("DROP", "TABLE"):
		var t *mirror.Table
		if t, err = p.table(); err == nil {
			c = &mirror.SchemaChange{Kind: mirror.DropTable, Table: t.SourceName()}
		}
	case p.accept("DROP", "INDEX"):
		c, err = p.dropIndex()
	case p.accept("ALTER", "TABLE"):
		c, err = p.alterTable()
	default:
		return nil, p.errorf("unsupported DDL statement")
	}
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errorf("unexpected %s", p.peek().text)
	}
	return c, nil
}

func (p *ddlParser) createTable() (*mirror.SchemaChange, error) {
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if _, exists := p.s.mirror.Table(name); exists {
		return nil, fail(p.s.sql, "table %s already exists", name)
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	meta := accessfile.TableMeta{Name: name}
	var rels []accessfile.Relationship
	add := func(cs []constraint) {
		for _, c := range cs {
			if c.index != nil {
				meta.Indexes = append(meta.Indexes, *c.index)
			}
			if c.rel != nil {
				rels = append(rels, *c.rel)
			}
		}
	}
	for {
		t := p.peek()
		if t.is("CONSTRAINT") || t.is("PRIMARY") || t.is("UNIQUE") || t.is("FOREIGN") {
			c, err := p.tableConstraint(name)
			if err != nil {
				return nil, err
			}
			add([]constraint{c})
		} else {
			col, cs, err := p.columnDef(name)
			if err != nil {
				return nil, err
			}
			if _, dup := meta.Column(col.Name); dup {
				return nil, fail(p.s.sql, "duplicate column %s", col.Name)
			}
			meta.Columns = append(meta.Columns, col)
			add(cs)
		}
		if p.acceptOp(",") {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		break
	}
	if len(meta.Columns) == 0 {
		return nil, fail(p.s.sql, "table %s has no columns", name)
	}

	primaries := 0
	for _, idx := range meta.Indexes {
		if idx.Primary {
			primaries++
		}
		for _, c := range idx.Columns {
			if _, ok := meta.Column(c); !ok {
				return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: name + "." + c}
			}
		}
	}
	if primaries > 1 {
		return nil, fail(p.s.sql, "table %s declares more than one primary key", name)
	}
	for i := range rels {
		if err := p.completeRelationship(&rels[i], &meta); err != nil {
			return nil, err
		}
	}
	return &mirror.SchemaChange{Kind: mirror.CreateTable, Table: name, Meta: meta, Relationships: rels}, nil
}

// columnDef reads "name type[(args)] [options]".
func (p *ddlParser) columnDef(table string) (accessfile.ColumnMeta, []constraint, error) {
	var cs []constraint
	name, err := p.name()
	if err != nil {
		return accessfile.ColumnMeta{}, nil, err
	}
	tt := p.peek()
	if tt.kind != tokIdent {
		return accessfile.ColumnMeta{}, nil, p.errorf("expected a type for column %s", name)
	}
	p.i++
	typeName := tt.text
	p.accept("PRECISION")
	var args []int
	if p.acceptOp("(") {
		for {
			n := p.peek()
			if n.kind != tokNumber {
				return accessfile.ColumnMeta{}, nil, p.errorf("expected a number")
			}
			v, err := strconv.Atoi(n.text)
			if err != nil {
				return accessfile.ColumnMeta{}, nil, failAt(p.s.sql, n, "invalid type argument %s", n.text)
			}
			p.i++
			args = append(args, v)
			if p.acceptOp(",") {
				continue
			}
			if err := p.expectOp(")"); err != nil {
				return accessfile.ColumnMeta{}, nil, err
			}
			break
		}
	}
	st, err := typemap.ParseSourceType(typeName, args)
	if err != nil {
		return accessfile.ColumnMeta{}, nil, failAt(p.s.sql, tt, "%v", err)
	}
	col := st.Column(name)

	consName := ""
	for !p.eof() && !p.peek().isOp(",") && !p.peek().isOp(")") {
		switch {
		case p.accept("NOT", "NULL"):
			col.Required = true
		case p.accept("NULL"):
		case p.accept("WITH", "COMPRESSION"), p.accept("WITH", "COMP"):
		case p.accept("DEFAULT"):
			def, err := p.defaultValue()
			if err != nil {
				return accessfile.ColumnMeta{}, nil, err
			}
			col.Default = def
		case p.accept("CONSTRAINT"):
			if consName, err = p.name(); err != nil {
				return accessfile.ColumnMeta{}, nil, err
			}
		case p.accept("PRIMARY", "KEY"):
			cs = append(cs, constraint{index: &accessfile.IndexMeta{
				Name: orDefault(consName, "PrimaryKey"), Columns: []string{name}, Primary: true, Unique: true,
			}})
			col.Required = true
			consName = ""
		case p.accept("UNIQUE"):
			cs = append(cs, constraint{index: &accessfile.IndexMeta{
				Name: orDefault(consName, name), Columns: []string{name}, Unique: true,
			}})
			consName = ""
		case p.accept("REFERENCES"):
			rel, err := p.references(consName, table, []string{name})
			if err != nil {
				return accessfile.ColumnMeta{}, nil, err
			}
			cs = append(cs, constraint{rel: rel})
			consName = ""
		default:
			return accessfile.ColumnMeta{}, nil, p.errorf("unexpected %s in column %s", p.peek().text, name)
		}
	}
	return col, cs, nil
}

// defaultValue reads a literal, a signed number or a function call and
// keeps its source text.
func (p *ddlParser) defaultValue() (string, error) {
	t := p.peek()
	switch {
	case t.isOp("-") || t.isOp("+"):
		p.i++
		n := p.peek()
		if n.kind != tokNumber {
			return "", p.errorf("expected a number")
		}
		p.i++
		return t.text + n.text, nil
	case t.kind == tokString:
		p.i++
		return quoteString(t.value), nil
	case t.kind == tokNumber:
		p.i++
		return t.text, nil
	case t.kind == tokIdent && p.i+2 < len(p.toks) && p.toks[p.i+1].isOp("(") && p.toks[p.i+2].isOp(")"):
		p.i += 3
		return t.text + "()", nil
	case t.kind == tokIdent:
		p.i++
		return t.text, nil
	}
	return "", p.errorf("unsupported default value")
}

// references reads "t [(cols)] [ON DELETE CASCADE] [ON UPDATE CASCADE]".
func (p *ddlParser) references(name, from string, cols []string) (*accessfile.Relationship, error) {
	to, err := p.name()
	if err != nil {
		return nil, err
	}
	rel := &accessfile.Relationship{Name: name, FromTable: from, FromColumns: cols, ToTable: to, Enforce: true}
	if p.peek().isOp("(") {
		if rel.ToColumns, err = p.nameList(); err != nil {
			return nil, err
		}
	}
	for {
		switch {
		case p.accept("ON", "DELETE", "CASCADE"):
			rel.CascadeDeletes = true
		case p.accept("ON", "UPDATE", "CASCADE"):
			rel.CascadeUpdates = true
		case p.accept("ON", "DELETE", "NO", "ACTION"), p.accept("ON", "UPDATE", "NO", "ACTION"):
		default:
			return rel, nil
		}
	}
}

func (p *ddlParser) tableConstraint(table string) (constraint, error) {
	name := ""
	if p.accept("CONSTRAINT") {
		n, err := p.name()
		if err != nil {
			return constraint{}, err
		}
		name = n
	}
	switch {
	case p.accept("PRIMARY", "KEY"):
		cols, err := p.nameList()
		if err != nil {
			return constraint{}, err
		}
		return constraint{index: &accessfile.IndexMeta{
			Name: orDefault(name, "PrimaryKey"), Columns: cols, Primary: true, Unique: true,
		}}, nil
	case p.accept("UNIQUE"):
		cols, err := p.nameList()
		if err != nil {
			return constraint{}, err
		}
		return constraint{index: &accessfile.IndexMeta{
			Name: orDefault(name, strings.Join(cols, "_")), Columns: cols, Unique: true,
		}}, nil
	case p.accept("FOREIGN", "KEY"):
		cols, err := p.nameList()
		if err != nil {
			return constraint{}, err
		}
		if err := p.expect("REFERENCES"); err != nil {
			return constraint{}, err
		}
		rel, err := p.references(name, table, cols)
		if err != nil {
			return constraint{}, err
		}
		return constraint{rel: rel}, nil
	}
	return constraint{}, p.errorf("expected PRIMARY KEY, UNIQUE or FOREIGN KEY")
}

// completeRelationship names rel and fills its referenced columns from the
// referenced primary key. self is the table being created, if any.
func (p *ddlParser) completeRelationship(rel *accessfile.Relationship, self *accessfile.TableMeta) error {
	var to *accessfile.TableMeta
	if self != nil && strings.EqualFold(rel.ToTable, self.Name) {
		to = self
	} else {
		t, ok := p.s.mirror.Lookup(rel.ToTable)
		if !ok {
			return &UnknownIdentifierError{SQL: p.s.sql, Identifier: rel.ToTable}
		}
		meta := t.Meta
		to = &meta
	}
	rel.ToTable = to.Name
	if len(rel.ToColumns) == 0 {
		pk, ok := to.PrimaryKey()
		if !ok {
			return fail(p.s.sql, "table %s has no primary key to reference", to.Name)
		}
		rel.ToColumns = append([]string(nil), pk.Columns...)
	}
	if len(rel.ToColumns) != len(rel.FromColumns) {
		return fail(p.s.sql, "relationship %s: %d columns reference %d", rel.Name, len(rel.FromColumns), len(rel.ToColumns))
	}
	for _, c := range rel.ToColumns {
		if _, ok := to.Column(c); !ok {
			return &UnknownIdentifierError{SQL: p.s.sql, Identifier: to.Name + "." + c}
		}
	}
	if rel.Name == "" {
		rel.Name = to.Name + rel.FromTable
	}
	return nil
}

func (p *ddlParser) createIndex(unique bool) (*mirror.SchemaChange, error) {
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.expect("ON"); err != nil {
		return nil, err
	}
	t, err := p.table()
	if err != nil {
		return nil, err
	}
	cols, err := p.nameList()
	if err != nil {
		return nil, err
	}
	idx := accessfile.IndexMeta{Name: name, Unique: unique}
	for _, c := range cols {
		col, ok := t.Column(c)
		if !ok {
			return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: t.SourceName() + "." + c}
		}
		idx.Columns = append(idx.Columns, col.SourceName())
	}
	if p.accept("WITH") {
		for !p.eof() {
			switch {
			case p.accept("PRIMARY"):
				idx.Primary, idx.Unique = true, true
			case p.accept("IGNORE", "NULL"):
				idx.IgnoreNulls = true
			case p.accept("DISALLOW", "NULL"):
			default:
				return nil, p.errorf("unexpected %s in index options", p.peek().text)
			}
		}
	}
	if _, exists := t.Meta.Index(name); exists {
		return nil, fail(p.s.sql, "index %s already exists on %s", name, t.SourceName())
	}
	if _, hasPK := t.Meta.PrimaryKey(); hasPK && idx.Primary {
		return nil, fail(p.s.sql, "table %s already has a primary key", t.SourceName())
	}
	return &mirror.SchemaChange{Kind: mirror.CreateIndex, Table: t.SourceName(), Index: idx}, nil
}

func (p *ddlParser) dropIndex() (*mirror.SchemaChange, error) {
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.expect("ON"); err != nil {
		return nil, err
	}
	t, err := p.table()
	if err != nil {
		return nil, err
	}
	idx, ok := t.Meta.Index(name)
	if !ok {
		return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: name}
	}
	return &mirror.SchemaChange{Kind: mirror.DropIndex, Table: t.SourceName(), Name: idx.Name}, nil
}

func (p *ddlParser) alterTable() (*mirror.SchemaChange, error) {
	t, err := p.table()
	if err != nil {
		return nil, err
	}
	table := t.SourceName()
	switch {
	case p.accept("ADD"):
		if nt := p.peek(); nt.is("CONSTRAINT") || nt.is("PRIMARY") || nt.is("UNIQUE") || nt.is("FOREIGN") {
			c, err := p.tableConstraint(table)
			if err != nil {
				return nil, err
			}
			return p.addConstraint(t, c)
		}
		p.accept("COLUMN")
		col, cs, err := p.columnDef(table)
		if err != nil {
			return nil, err
		}
		if len(cs) > 0 {
			return nil, fail(p.s.sql, "constraints on ADD COLUMN are not supported; add the constraint separately")
		}
		if _, exists := t.Column(col.Name); exists {
			return nil, fail(p.s.sql, "column %s already exists on %s", col.Name, table)
		}
		return &mirror.SchemaChange{Kind: mirror.AddColumn, Table: table, Column: col}, nil

	case p.accept("DROP", "CONSTRAINT"):
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		for _, rel := range p.s.mirror.RelationshipsOf(table) {
			if strings.EqualFold(rel.Name, name) {
				return &mirror.SchemaChange{Kind: mirror.DropRelationship, Table: table, Name: rel.Name}, nil
			}
		}
		if idx, ok := t.Meta.Index(name); ok {
			return &mirror.SchemaChange{Kind: mirror.DropIndex, Table: table, Name: idx.Name}, nil
		}
		return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: name}

	case p.accept("DROP"):
		p.accept("COLUMN")
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		col, ok := t.Column(name)
		if !ok {
			return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: table + "." + name}
		}
		return &mirror.SchemaChange{Kind: mirror.DropColumn, Table: table, Name: col.SourceName()}, nil

	case p.accept("ALTER"):
		return nil, fail(p.s.sql, "ALTER COLUMN is not supported")
	}
	return nil, p.errorf("expected ADD or DROP")
}

func (p *ddlParser) addConstraint(t *mirror.Table, c constraint) (*mirror.SchemaChange, error) {
	table := t.SourceName()
	if c.rel != nil {
		for i, col := range c.rel.FromColumns {
			mc, ok := t.Column(col)
			if !ok {
				return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: table + "." + col}
			}
			c.rel.FromColumns[i] = mc.SourceName()
		}
		if err := p.completeRelationship(c.rel, nil); err != nil {
			return nil, err
		}
		for _, r := range p.s.mirror.Relationships() {
			if strings.EqualFold(r.Name, c.rel.Name) {
				return nil, fail(p.s.sql, "relationship %s already exists", r.Name)
			}
		}
		return &mirror.SchemaChange{Kind: mirror.AddRelationship, Table: table, Relationship: *c.rel}, nil
	}
	idx := *c.index
	for i, col := range idx.Columns {
		mc, ok := t.Column(col)
		if !ok {
			return nil, &UnknownIdentifierError{SQL: p.s.sql, Identifier: table + "." + col}
		}
		idx.Columns[i] = mc.SourceName()
	}
	if _, exists := t.Meta.Index(idx.Name); exists {
		return nil, fail(p.s.sql, "index %s already exists on %s", idx.Name, table)
	}
	if _, hasPK := t.Meta.PrimaryKey(); hasPK && idx.Primary {
		return nil, fail(p.s.sql, "table %s already has a primary key", table)
	}
	return &mirror.SchemaChange{Kind: mirror.CreateIndex, Table: table, Index: idx}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
