package xmlstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// DefaultMaxDepth bounds element nesting unless WithMaxDepth overrides it.
const DefaultMaxDepth = 256

// StartFunc is invoked when an element opens. The element is already on the
// stack and present in its parent's mapping.
type StartFunc func(name string) error

// CompleteFunc is invoked when an element closes. node has already been
// removed from parent, which is the innermost element still open (or the
// document node for the root element).
type CompleteFunc func(node, parent *Node) error

// ErrorHandler receives non-fatal parse problems. Returning a non-nil error
// aborts the session with that error.
type ErrorHandler func(msg string) error

// State is the lifecycle position of a Parser. A parser is open while
// elements are on its stack and idle otherwise, both before the root element
// and after it has closed; End moves it to closed.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
	StateAborted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithErrorHandler replaces the default log-only error handler.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(p *Parser) {
		p.onError = fn
	}
}

// WithMaxDepth limits element nesting. Deeper documents are malformed.
func WithMaxDepth(depth int) Option {
	return func(p *Parser) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

type frame struct {
	name     xml.Name
	node     *Node
	text     strings.Builder
	children bool
}

// Parser is a push-fed streaming XML parser. Bytes arrive through Feed in
// chunks of any size; every callback that those bytes make possible runs
// before Feed returns.
//
// The parser keeps a pseudo-document: a mapping rooted at the document node
// that holds the currently open elements and any completed children nobody
// consumed. Elements with a complete callback are detached from the document
// before the callback runs, so memory stays proportional to nesting depth
// and unconsumed siblings rather than document size.
//
// A Parser is not safe for concurrent use, except for Stop.
type Parser struct {
	logger   *slog.Logger
	onError  ErrorHandler
	maxDepth int

	start    map[string]StartFunc
	complete map[string]CompleteFunc

	doc    *Node
	frames []*frame
	rooted bool

	// pending holds decoded bytes not yet tokenized; only an incomplete
	// trailing token survives a Feed.
	pending    bytes.Buffer
	transcoder *transform.Writer
	offset     int64

	state State
	err   error
	stop  atomic.Bool
}

// New creates an idle Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
		start:    make(map[string]StartFunc),
		complete: make(map[string]CompleteFunc),
		doc:      NewMapping(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnStart registers fn for elements with the given local name, replacing any
// previous registration. A nil fn removes it.
func (p *Parser) OnStart(name string, fn StartFunc) {
	if fn == nil {
		delete(p.start, name)
		return
	}
	p.start[name] = fn
}

// OnComplete registers fn for elements with the given local name, replacing
// any previous registration. A nil fn removes it.
func (p *Parser) OnComplete(name string, fn CompleteFunc) {
	if fn == nil {
		delete(p.complete, name)
		return
	}
	p.complete[name] = fn
}

// Feed pushes the next chunk of the document.
func (p *Parser) Feed(chunk []byte) error {
	if err := p.usable(); err != nil {
		return err
	}
	if len(chunk) == 0 {
		return nil
	}
	if err := p.write(chunk); err != nil {
		return p.fail(err)
	}
	if err := p.drain(false); err != nil {
		return p.fail(err)
	}
	return nil
}

// End signals that no more bytes will arrive. It fails with an
// IncompleteDocumentError while elements remain open.
func (p *Parser) End() error {
	if err := p.usable(); err != nil {
		return err
	}
	if p.transcoder != nil {
		if err := p.transcoder.Close(); err != nil {
			return p.fail(&MalformedXMLError{Offset: p.offset, Err: err})
		}
	}

	err := p.drain(true)
	var trunc *truncatedError
	switch {
	case errors.As(err, &trunc) && len(p.frames) > 0:
		return p.fail(&IncompleteDocumentError{Open: p.Path()})
	case errors.As(err, &trunc):
		return p.fail(&MalformedXMLError{Offset: trunc.offset, Err: trunc.err})
	case err != nil:
		return p.fail(err)
	}

	if len(p.frames) > 0 || !p.rooted {
		return p.fail(&IncompleteDocumentError{Open: p.Path()})
	}
	p.state = StateClosed
	p.pending = bytes.Buffer{}
	p.transcoder = nil
	return nil
}

// Stop asks the parser to halt. It may be called from any goroutine; the
// next Feed or End returns ErrStopped and releases the parser's buffers.
func (p *Parser) Stop() {
	p.stop.Store(true)
}

// ReportError routes a non-fatal problem through the error handler. The
// default handler logs the message and returns nil.
func (p *Parser) ReportError(msg string) error {
	if p.onError != nil {
		return p.onError(msg)
	}
	p.logger.Warn("xml parse error", "error", msg, "path", strings.Join(p.Path(), "/"))
	return nil
}

// State returns the current lifecycle state.
func (p *Parser) State() State {
	return p.state
}

// Err returns the error that aborted the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Document returns the document node.
func (p *Parser) Document() *Node {
	return p.doc
}

// Depth returns the number of open elements.
func (p *Parser) Depth() int {
	return len(p.frames)
}

// Path returns the names of the open elements, outermost first.
func (p *Parser) Path() []string {
	path := make([]string, len(p.frames))
	for i, f := range p.frames {
		path[i] = f.name.Local
	}
	return path
}

// Nodes returns the open element nodes. Index 0 is the document node and
// index i+1 belongs to Path()[i].
func (p *Parser) Nodes() []*Node {
	nodes := make([]*Node, 0, len(p.frames)+1)
	nodes = append(nodes, p.doc)
	for _, f := range p.frames {
		nodes = append(nodes, f.node)
	}
	return nodes
}

// Parent returns the name of the innermost open element, or "" at the top
// level. Inside a complete callback this is the completed element's parent.
func (p *Parser) Parent() string {
	if len(p.frames) == 0 {
		return ""
	}
	return p.frames[len(p.frames)-1].name.Local
}

// Within reports whether an element with the given name is open.
func (p *Parser) Within(name string) bool {
	for _, f := range p.frames {
		if f.name.Local == name {
			return true
		}
	}
	return false
}

func (p *Parser) usable() error {
	if p.stop.Load() && (p.state == StateIdle || p.state == StateOpen) {
		p.state = StateStopped
		p.release()
	}
	switch p.state {
	case StateStopped:
		return ErrStopped
	case StateClosed:
		return ErrClosed
	case StateAborted:
		return p.err
	}
	return nil
}

func (p *Parser) fail(err error) error {
	if errors.Is(err, ErrStopped) {
		p.state = StateStopped
	} else {
		p.state = StateAborted
		p.err = err
	}
	p.release()
	return err
}

func (p *Parser) release() {
	p.pending = bytes.Buffer{}
	p.transcoder = nil
	p.frames = nil
	p.doc = NewMapping()
}

func (p *Parser) write(b []byte) error {
	if p.transcoder == nil {
		p.pending.Write(b)
		return nil
	}
	if _, err := p.transcoder.Write(b); err != nil {
		return &MalformedXMLError{Offset: p.offset, Err: fmt.Errorf("transcode: %w", err)}
	}
	return nil
}

// drain tokenizes as much of the pending window as possible.
func (p *Parser) drain(final bool) error {
	for p.pending.Len() > 0 {
		window := p.pending.Bytes()
		n, label, err := p.tokenize(window, final)
		if err != nil {
			return err
		}
		if label == "" {
			p.pending.Next(n)
			p.offset += int64(n)
			return nil
		}

		// The rest of the window is still in the declared encoding.
		rest := bytes.Clone(window[n:])
		p.offset += int64(n)
		p.pending.Reset()
		if err := p.switchEncoding(label); err != nil {
			return err
		}
		if err := p.write(rest); err != nil {
			return err
		}
		if final {
			if err := p.transcoder.Close(); err != nil {
				return &MalformedXMLError{Offset: p.offset, Err: err}
			}
		}
	}
	return nil
}

// tokenize runs one decoder pass over window and returns how many bytes were
// consumed. A non-empty label means an encoding declaration was just read and
// the pass stopped right after it.
func (p *Parser) tokenize(window []byte, final bool) (int, string, error) {
	dec := xml.NewDecoder(bytes.NewReader(window))
	var label string
	dec.CharsetReader = func(l string, r io.Reader) (io.Reader, error) {
		label = l
		return r, nil
	}

	consumed := 0
	for {
		if p.stop.Load() {
			return consumed, "", ErrStopped
		}

		tok, err := dec.RawToken()
		if err == io.EOF {
			return int(dec.InputOffset()), "", nil
		}
		if err != nil {
			at := p.offset + int64(consumed)
			if dec.InputOffset() < int64(len(window)) {
				return consumed, "", &MalformedXMLError{Offset: at, Err: err}
			}
			// The window ends inside a token.
			if final {
				return consumed, "", &truncatedError{offset: at, err: err}
			}
			return consumed, "", nil
		}

		consumed = int(dec.InputOffset())
		if err := p.dispatch(tok, p.offset+int64(consumed)); err != nil {
			return consumed, "", err
		}
		if label != "" {
			return consumed, label, nil
		}
	}
}

func (p *Parser) switchEncoding(label string) error {
	if p.transcoder != nil {
		return malformed(p.offset, "encoding %q declared twice", label)
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return malformed(p.offset, "unsupported encoding %q", label)
	}
	p.logger.Debug("transcoding xml input", "encoding", name)
	p.transcoder = transform.NewWriter(&p.pending, enc.NewDecoder())
	return nil
}

func (p *Parser) dispatch(tok xml.Token, end int64) error {
	switch t := tok.(type) {
	case xml.StartElement:
		return p.startElement(t.Name, end)
	case xml.EndElement:
		return p.endElement(t.Name, end)
	case xml.CharData:
		return p.characters(t)
	case xml.ProcInst:
		if t.Target == "xml" && p.rooted {
			return malformed(end, "xml declaration after root element")
		}
	}
	return nil
}

func (p *Parser) startElement(name xml.Name, end int64) error {
	if len(p.frames) == 0 && p.rooted {
		return malformed(end, "element <%s> after root element", qualified(name))
	}
	if len(p.frames) >= p.maxDepth {
		return malformed(end, "element <%s> exceeds maximum depth %d", qualified(name), p.maxDepth)
	}

	parent := p.top()
	if f := p.topFrame(); f != nil {
		f.children = true
		f.text.Reset()
	}
	node := NewMapping()
	parent.set(name.Local, node)
	p.frames = append(p.frames, &frame{name: name, node: node})
	p.rooted = true
	p.state = StateOpen

	if fn := p.start[name.Local]; fn != nil {
		return fn(name.Local)
	}
	return nil
}

func (p *Parser) endElement(name xml.Name, end int64) error {
	f := p.topFrame()
	if f == nil {
		return malformed(end, "unexpected end element </%s>", qualified(name))
	}
	if f.name != name {
		return malformed(end, "element <%s> closed by </%s>", qualified(f.name), qualified(name))
	}

	p.frames[len(p.frames)-1] = nil
	p.frames = p.frames[:len(p.frames)-1]
	if len(p.frames) == 0 {
		p.state = StateIdle
	}
	if !f.children {
		f.node.seal(strings.TrimSpace(f.text.String()))
	}

	fn := p.complete[name.Local]
	if fn == nil {
		return nil
	}
	parent := p.top()
	parent.remove(name.Local, f.node)
	return fn(f.node, parent)
}

func (p *Parser) characters(data xml.CharData) error {
	f := p.topFrame()
	if f == nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return p.ReportError("character data outside root element")
	}
	// Text of mixed-content elements is dropped.
	if !f.children {
		f.text.Write(data)
	}
	return nil
}

func (p *Parser) top() *Node {
	if f := p.topFrame(); f != nil {
		return f.node
	}
	return p.doc
}

func (p *Parser) topFrame() *frame {
	if len(p.frames) == 0 {
		return nil
	}
	return p.frames[len(p.frames)-1]
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

// truncatedError marks input that ended inside a token.
type truncatedError struct {
	offset int64
	err    error
}

func (e *truncatedError) Error() string {
	return fmt.Sprintf("input ends inside a token at offset %d: %v", e.offset, e.err)
}
