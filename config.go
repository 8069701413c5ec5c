package gravitas

// Config carries the VM's and CLI's tunables: a handful of named
// settings (vm.debug, vm.max_call_depth, compiler.optimize) looked up
// by dotted path rather than bound to dedicated struct fields, since
// both the CLI and the test suite only ever need to poke at one or two
// of them at a time.
type Config struct {
	values map[string]configValue
}

// NewConfig returns a configuration with the VM's and CLI's tunables
// set to their running defaults: tracing off, a call depth generous
// enough for any deliberately recursive test program, and
// compiler.optimize at 1. No code in this package reads
// compiler.optimize.
func NewConfig() *Config {
	c := &Config{values: map[string]configValue{}}
	c.SetBool("vm.debug", false)
	c.SetInt("vm.max_call_depth", 255)
	c.SetInt("compiler.optimize", 1)
	return c
}

type configValueKind int

const (
	configUndefined configValueKind = iota
	configBool
	configInt
	configString
)

type configValue struct {
	kind     configValueKind
	asBool   bool
	asInt    int
	asString string
}

// ConfigError reports a lookup against an unset path, or a lookup
// whose requested type doesn't match how the path was last Set.
type ConfigError struct {
	Kind string // "undefined-setting", "mismatched-type"
	Path string
}

func (e ConfigError) Error() string {
	switch e.Kind {
	case "undefined-setting":
		return "undefined setting: " + e.Path
	default:
		return "mismatched type for setting: " + e.Path
	}
}

func (c *Config) SetBool(path string, v bool) {
	c.values[path] = configValue{kind: configBool, asBool: v}
}

func (c *Config) SetInt(path string, v int) {
	c.values[path] = configValue{kind: configInt, asInt: v}
}

func (c *Config) SetString(path string, v string) {
	c.values[path] = configValue{kind: configString, asString: v}
}

func (c *Config) GetBool(path string) (bool, error) {
	v, ok := c.values[path]
	if !ok {
		return false, ConfigError{Kind: "undefined-setting", Path: path}
	}
	if v.kind != configBool {
		return false, ConfigError{Kind: "mismatched-type", Path: path}
	}
	return v.asBool, nil
}

func (c *Config) GetInt(path string) (int, error) {
	v, ok := c.values[path]
	if !ok {
		return 0, ConfigError{Kind: "undefined-setting", Path: path}
	}
	if v.kind != configInt {
		return 0, ConfigError{Kind: "mismatched-type", Path: path}
	}
	return v.asInt, nil
}

func (c *Config) GetString(path string) (string, error) {
	v, ok := c.values[path]
	if !ok {
		return "", ConfigError{Kind: "undefined-setting", Path: path}
	}
	if v.kind != configString {
		return "", ConfigError{Kind: "mismatched-type", Path: path}
	}
	return v.asString, nil
}
