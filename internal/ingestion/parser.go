package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"PredictLedger/internal/event"

	"github.com/go-playground/validator/v10"
)

// CommandSubjectPrefix is the subject namespace commands arrive on:
// predict.commands.<CommandType>.
const CommandSubjectPrefix = "predict.commands."

// ErrMalformedCommand marks input that can never be applied. Such messages
// are terminated rather than redelivered.
var ErrMalformedCommand = errors.New("malformed command")

// Parser converts wire JSON into typed commands. The shell validates shape
// here; business rules stay in the engine.
type Parser struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewParser() *Parser {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in validation errors, matching what producers send.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Parser{validate: v, now: time.Now}
}

// WithClock replaces the clock used to stamp commands without a receive
// time.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// CommandTypeFromSubject resolves the command type a subject carries.
func CommandTypeFromSubject(subject string) (event.CommandType, error) {
	name, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return event.CommandTypeUnknown, fmt.Errorf("subject %q: %w", subject, ErrMalformedCommand)
	}
	return ParseCommandName(name)
}

// ParseCommandName resolves a wire command name such as "Buy".
func ParseCommandName(name string) (event.CommandType, error) {
	ct, ok := event.ParseCommandType(name)
	if !ok {
		return event.CommandTypeUnknown, fmt.Errorf("unknown command type %q: %w", name, ErrMalformedCommand)
	}
	return ct, nil
}

// Parse decodes and validates a command payload. Unknown fields are
// rejected so a typo never silently becomes a zero value. The command is
// stamped with receivedAt; a timestamp in the payload is ignored.
func (p *Parser) Parse(ct event.CommandType, data []byte, receivedAt time.Time) (event.Command, error) {
	cmd, err := event.New(ct)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedCommand)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", ct, err, ErrMalformedCommand)
	}
	if st, ok := cmd.(event.Stampable); ok {
		st.Stamp(receivedAt.Unix())
	}

	if err := p.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return nil, fmt.Errorf("validate %s: %s: %w", ct, strings.Join(fields, ", "), ErrMalformedCommand)
		}
		return nil, fmt.Errorf("validate %s: %v: %w", ct, err, ErrMalformedCommand)
	}
	return cmd, nil
}

// ParseRaw resolves the type from the subject and parses the payload, then
// records where the message came from for ordering checks.
func (p *Parser) ParseRaw(raw RawCommand) (event.Command, error) {
	ct, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	cmd, err := p.Parse(ct, raw.Data, receivedAt)
	if err != nil {
		return nil, err
	}
	if l, ok := cmd.(event.Locatable); ok {
		l.Locate(raw.Stream, int64(raw.StreamSequence))
	}
	return cmd, nil
}
