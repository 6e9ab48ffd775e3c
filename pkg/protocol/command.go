// Package protocol defines the shardfs command language spoken between
// clients, the gateway and the storage nodes.
//
// A command is a single line of text: a verb followed by whitespace
// separated operands and terminated by '\n'. Bulk data never travels inside
// a command line; see package frame for the binary framing that follows.
package protocol

import (
	"path"
	"strings"
)

// Verb identifies the operation requested by a command line.
type Verb int

const (
	// VerbUnknown is any verb the parser does not recognise. Callers drop
	// such commands without replying.
	VerbUnknown Verb = iota

	// VerbStore uploads a file: "uploadf <filename> <destDir>" followed by a
	// close-terminated payload.
	VerbStore

	// VerbFetch downloads a file: "downlf <path>".
	VerbFetch

	// VerbRemove deletes a file: "removef <path>".
	VerbRemove

	// VerbListNames lists file names below a directory:
	// "dispfnames <dir>" on the gateway, "dispfnames <dir> <.ext>" on nodes.
	VerbListNames

	// VerbBundle downloads a tar archive of every file of one type:
	// "downltar <.ext>".
	VerbBundle
)

var verbTokens = map[string]Verb{
	"uploadf":    VerbStore,
	"downlf":     VerbFetch,
	"removef":    VerbRemove,
	"dispfnames": VerbListNames,
	"downltar":   VerbBundle,
}

// ParseVerb maps a wire token to its verb.
func ParseVerb(token string) (Verb, bool) {
	v, ok := verbTokens[token]
	return v, ok
}

// String returns the wire token for the verb.
func (v Verb) String() string {
	switch v {
	case VerbStore:
		return "uploadf"
	case VerbFetch:
		return "downlf"
	case VerbRemove:
		return "removef"
	case VerbListNames:
		return "dispfnames"
	case VerbBundle:
		return "downltar"
	default:
		return "unknown"
	}
}

// Command is one parsed request line. Operands that were not supplied are
// empty strings; the handler decides which of them are mandatory.
type Command struct {
	Verb Verb

	// Raw is the verb token as received, kept for logging unknown verbs.
	Raw string

	// Path is the primary virtual path: the destination directory for
	// Store, the file for Fetch and Remove, the directory for ListNames.
	Path string

	// Name is the source filename of a Store.
	Name string

	// Ext is the type filter of Bundle and of a node-side ListNames.
	Ext string
}

// Parse extracts the verb and operands from one command line.
//
// Fetch, Remove, Bundle and ListNames take the rest of the line as their
// single operand, so paths may contain spaces. Store takes the next two
// whitespace separated tokens. Nodes use ParseNode, which also reads the type
// filter of a ListNames line.
func Parse(line string) Command {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimLeft(line, " \t")

	token, rest := trimmed, ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		token, rest = trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}

	cmd := Command{Verb: verbTokens[token], Raw: token}

	switch cmd.Verb {
	case VerbStore:
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			cmd.Name = fields[0]
		}
		if len(fields) > 1 {
			cmd.Path = fields[1]
		}
	case VerbFetch, VerbRemove:
		cmd.Path = rest
	case VerbBundle:
		cmd.Ext = rest
	case VerbListNames:
		cmd.Path = rest
	}

	return cmd
}

// ParseNode parses a line sent by the gateway to a storage node. It differs
// from Parse only for ListNames, whose last token is the type filter when it
// starts with '.' and follows a path.
func ParseNode(line string) Command {
	cmd := Parse(line)
	if cmd.Verb != VerbListNames {
		return cmd
	}
	if i := strings.LastIndexAny(cmd.Path, " \t"); i >= 0 {
		if last := cmd.Path[i+1:]; strings.HasPrefix(last, ".") {
			cmd.Path = strings.TrimSpace(cmd.Path[:i])
			cmd.Ext = last
		}
	}
	return cmd
}

// Line renders the command as a newline-terminated wire line.
func (c Command) Line() string {
	var b strings.Builder
	b.WriteString(c.Verb.String())

	var operands []string
	switch c.Verb {
	case VerbStore:
		operands = []string{c.Name, c.Path}
	case VerbFetch, VerbRemove:
		operands = []string{c.Path}
	case VerbBundle:
		operands = []string{c.Ext}
	case VerbListNames:
		operands = []string{c.Path, c.Ext}
	}
	for _, op := range operands {
		if op == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(op)
	}

	b.WriteByte('\n')
	return b.String()
}

// FileName returns the base name of a Store's source filename, or "" when
// it names no file.
func (c Command) FileName() string {
	name := path.Base(strings.ReplaceAll(c.Name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
