package typemap

import "strings"

// FuncKind says how a source-dialect function reaches the engine.
type FuncKind uint8

const (
	// FuncNative is the same function under the same name.
	FuncNative FuncKind = iota + 1
	// FuncRename is an engine built-in under another name.
	FuncRename
	// FuncEmulated is implemented in Go and registered on every engine connection.
	FuncEmulated
	// FuncAggregate is an emulated aggregate.
	FuncAggregate
	// FuncRewrite is replaced by an equivalent expression.
	FuncRewrite
)

// EmulatedPrefix prefixes the engine name of every emulated function.
const EmulatedPrefix = "acc_"

// Function describes one source-dialect function.
type Function struct {
	Name    string
	Kind    FuncKind
	Target  string
	MinArgs int
	// MaxArgs of -1 means variadic.
	MaxArgs int
}

func emulated(name string, min, max int) Function {
	return Function{Name: name, Kind: FuncEmulated, Target: EmulatedPrefix + strings.ToLower(name), MinArgs: min, MaxArgs: max}
}

func aggregate(name string) Function {
	return Function{Name: name, Kind: FuncAggregate, Target: EmulatedPrefix + strings.ToLower(name), MinArgs: 1, MaxArgs: 1}
}

func rename(name, target string, min, max int) Function {
	return Function{Name: name, Kind: FuncRename, Target: target, MinArgs: min, MaxArgs: max}
}

func native(name string, min, max int) Function {
	return Function{Name: name, Kind: FuncNative, Target: strings.ToLower(name), MinArgs: min, MaxArgs: max}
}

func rewrite(name string, min, max int) Function {
	return Function{Name: name, Kind: FuncRewrite, MinArgs: min, MaxArgs: max}
}

var functions = indexFunctions([]Function{
	native("ABS", 1, 1),
	native("COUNT", 1, 1),
	native("SUM", 1, 1),
	native("AVG", 1, 1),
	native("MIN", 1, 1),
	native("MAX", 1, 1),
	native("TRIM", 1, 1),
	native("LTRIM", 1, 1),
	native("RTRIM", 1, 1),
	native("COALESCE", 1, -1),

	rename("UCASE", "upper", 1, 1),
	rename("LCASE", "lower", 1, 1),
	rename("LEN", "length", 1, 1),
	rename("MID", "substr", 2, 3),

	emulated("NOW", 0, 0),
	emulated("DATE", 0, 0),
	emulated("TIME", 0, 0),
	emulated("DATEADD", 3, 3),
	emulated("DATEDIFF", 3, 5),
	emulated("DATEPART", 2, 4),
	emulated("DATESERIAL", 3, 3),
	emulated("TIMESERIAL", 3, 3),
	emulated("DATEVALUE", 1, 1),
	emulated("TIMEVALUE", 1, 1),
	emulated("YEAR", 1, 1),
	emulated("MONTH", 1, 1),
	emulated("DAY", 1, 1),
	emulated("HOUR", 1, 1),
	emulated("MINUTE", 1, 1),
	emulated("SECOND", 1, 1),
	emulated("WEEKDAY", 1, 2),
	emulated("MONTHNAME", 1, 2),
	emulated("WEEKDAYNAME", 1, 3),
	emulated("FORMAT", 1, 2),
	emulated("INSTR", 2, 4),
	emulated("INSTRREV", 2, 4),
	emulated("LEFT", 2, 2),
	emulated("RIGHT", 2, 2),
	emulated("SPACE", 1, 1),
	emulated("STRING", 2, 2),
	emulated("STRREVERSE", 1, 1),
	emulated("STRCOMP", 2, 3),
	emulated("REPLACE", 3, 6),
	emulated("VAL", 1, 1),
	emulated("STR", 1, 1),
	emulated("CSTR", 1, 1),
	emulated("CLNG", 1, 1),
	emulated("CINT", 1, 1),
	emulated("CBYTE", 1, 1),
	emulated("CDBL", 1, 1),
	emulated("CSNG", 1, 1),
	emulated("CDEC", 1, 1),
	emulated("CCUR", 1, 1),
	emulated("CBOOL", 1, 1),
	emulated("CDATE", 1, 1),
	emulated("CVAR", 1, 1),
	emulated("INT", 1, 1),
	emulated("FIX", 1, 1),
	emulated("SGN", 1, 1),
	emulated("SQR", 1, 1),
	emulated("EXP", 1, 1),
	emulated("LOG", 1, 1),
	emulated("ATN", 1, 1),
	emulated("SIN", 1, 1),
	emulated("COS", 1, 1),
	emulated("TAN", 1, 1),
	emulated("ROUND", 1, 2),
	emulated("RND", 0, 1),
	emulated("ASC", 1, 1),
	emulated("CHR", 1, 1),
	emulated("NZ", 1, 2),
	emulated("ISNUMERIC", 1, 1),
	emulated("ISDATE", 1, 1),
	emulated("ISEMPTY", 1, 1),
	emulated("HEX", 1, 1),
	emulated("OCT", 1, 1),
	emulated("NEWGUID", 0, 0),

	aggregate("FIRST"),
	aggregate("LAST"),
	aggregate("STDEV"),
	aggregate("STDEVP"),
	aggregate("VAR"),
	aggregate("VARP"),

	rewrite("IIF", 3, 3),
	rewrite("SWITCH", 2, -1),
	rewrite("CHOOSE", 2, -1),
	rewrite("ISNULL", 1, 1),
})

func indexFunctions(list []Function) map[string]Function {
	m := make(map[string]Function, len(list))
	for _, f := range list {
		m[f.Name] = f
	}
	return m
}

// LookupFunction finds a source-dialect function by name, case-insensitively.
func LookupFunction(name string) (Function, bool) {
	f, ok := functions[strings.ToUpper(name)]
	return f, ok
}

// Functions returns every function of kind k.
func Functions(k FuncKind) []Function {
	var out []Function
	for _, f := range functions {
		if f.Kind == k {
			out = append(out, f)
		}
	}
	return out
}

// AcceptsArgs reports whether n arguments fit the function's arity.
func (f Function) AcceptsArgs(n int) bool {
	return n >= f.MinArgs && (f.MaxArgs < 0 || n <= f.MaxArgs)
}
