package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/hostvm/guest-bridge/engine"
	"github.com/hostvm/guest-bridge/stack"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest wasm file")
		funcName    = flag.String("func", "", "Export to call")
		argsStr     = flag.String("args", "", "Space-separated arguments (int, float, true/false, nil, anything else is text)")
		list        = flag.Bool("list", false, "List callable exports and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: stackrun -wasm <file.wasm> -func name [-args \"...\"]")
		fmt.Fprintln(os.Stderr, "       stackrun -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       stackrun -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *funcName, *argsStr, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, funcName, argsStr string, listOnly bool) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt, err := engine.New(ctx)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	guest, err := rt.Load(ctx, data)
	if err != nil {
		return fmt.Errorf("load guest: %w", err)
	}
	defer guest.Close(ctx)

	exports := guest.Exports()
	if listOnly {
		fmt.Printf("Guest: %s\n\nExports:\n", wasmFile)
		for _, name := range exports {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	if funcName == "" {
		if len(exports) == 1 {
			funcName = exports[0]
		} else {
			return fmt.Errorf("no function specified; use -func (or -list to see exports)")
		}
	}

	args, err := parseArgs(argsStr)
	if err != nil {
		return err
	}

	st := guest.NewStack()
	for i, arg := range args {
		if _, err := arg.Push(st); err != nil {
			return fmt.Errorf("push argument %d: %w", i, err)
		}
	}

	fmt.Printf("Calling %s with %d argument(s)...\n", funcName, len(args))
	if err := guest.Call(ctx, funcName, st); err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}

	results, err := drainStack(st)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("Result: %s\n", r)
	}
	return nil
}

// drainStack pops every value off the stack, bottom-first in the output.
func drainStack(st *stack.Stack) ([]string, error) {
	var out []string
	for st.Depth() > 0 {
		v, err := stack.PopValue(st)
		if err != nil {
			return nil, err
		}
		out = append(out, formatValue(v))
	}
	// popping reverses; restore push order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// parseArgs turns space-separated literals into stack values. Numbers become
// Int or Float, true/false become Bool, nil becomes Nil, everything else is
// text. A "text:" prefix forces text for literals that would otherwise parse
// as something else.
func parseArgs(argsStr string) ([]stack.Value, error) {
	fields := strings.Fields(argsStr)
	out := make([]stack.Value, 0, len(fields))
	for _, f := range fields {
		out = append(out, parseArg(f))
	}
	return out, nil
}

func parseArg(s string) stack.Value {
	if rest, ok := strings.CutPrefix(s, "text:"); ok {
		return stack.Text(rest)
	}
	switch s {
	case "nil":
		return stack.Nil{}
	case "true":
		return stack.Bool(true)
	case "false":
		return stack.Bool(false)
	}
	var i int64
	if _, err := fmt.Sscanf(s, "%d", &i); err == nil && fmt.Sprintf("%d", i) == s {
		return stack.Int(i)
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err == nil && strings.ContainsAny(s, ".eE") {
		return stack.Float(f)
	}
	return stack.Text(s)
}

// formatValue renders a popped value for display. String payloads decode
// lossily so invalid bytes still print.
func formatValue(v stack.Value) string {
	switch val := v.(type) {
	case stack.Nil:
		return "nil"
	case stack.Bool:
		return fmt.Sprintf("%v", bool(val))
	case stack.Int:
		return fmt.Sprintf("%d", int64(val))
	case stack.Float:
		return fmt.Sprintf("%g", float64(val))
	case *stack.Str:
		text, err := val.Buf.TextLossy()
		val.Buf.Free()
		if err != nil {
			return fmt.Sprintf("<unreadable string: %v>", err)
		}
		return fmt.Sprintf("%q", text)
	case stack.List:
		parts := make([]string, len(val))
		for i, el := range val {
			parts[i] = formatValue(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case stack.Map:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, formatValue(val[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *stack.Variant:
		if val.Payload == nil {
			return fmt.Sprintf("variant(%d)", val.Case)
		}
		return fmt.Sprintf("variant(%d, %s)", val.Case, formatValue(val.Payload))
	case *stack.ErrorValue:
		return fmt.Sprintf("error(%s: %s)", val.Kind, val.Message)
	default:
		return fmt.Sprintf("%v", v)
	}
}
