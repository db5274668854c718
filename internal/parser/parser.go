package parser

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	deckPrefix     = "# "
	separator      = "---"

	// maxLineSize bounds a single line; inline data URIs easily exceed
	// bufio's 64 KiB default.
	maxLineSize = 4 << 20
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFile reads a markdown file and extracts all cards. Cards before the
// first deck heading belong to a deck named after the file.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file, DeckName(path))
}

// DeckName derives the default deck of a file from its base name.
func DeckName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// cardBuilder accumulates lines for the card currently being read.
type cardBuilder struct {
	deck    string
	current domain.Card
	block   []string
	state   state
	cards   []domain.Card
}

// flushBlock stores the pending lines in the field matching the current state.
func (b *cardBuilder) flushBlock() {
	if len(b.block) == 0 {
		return
	}
	content := strings.TrimRightFunc(strings.Join(b.block, "\n"), unicode.IsSpace)
	switch b.state {
	case readingQuestion:
		b.current.Question = content
	case readingAnswer:
		b.current.Answer = content
	case readingContext:
		b.current.Context = content
	}
	b.block = nil
}

// finishCard emits the current card if it has a question.
func (b *cardBuilder) finishCard() {
	b.flushBlock()
	if b.current.Question != "" {
		b.current.Deck = b.deck
		b.cards = append(b.cards, b.current)
	}
	b.current = domain.Card{}
	b.state = seeking
}

func (b *cardBuilder) start(next state, line, prefix string) {
	b.flushBlock()
	if next == readingQuestion && b.state != seeking {
		// A new question always starts a new card.
		b.finishCard()
	}
	b.state = next
	b.block = append(b.block, strings.TrimPrefix(line[len(prefix):], " "))
}

// Parse reads from an io.Reader and extracts all cards. A "# Heading" line
// switches the deck for the cards that follow it. On a read error the cards
// completed so far are returned along with the error.
func Parse(r io.Reader, defaultDeck string) ([]domain.Card, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	b := &cardBuilder{deck: defaultDeck}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == separator:
			b.finishCard()
		case strings.HasPrefix(line, deckPrefix):
			b.finishCard()
			if deck := strings.TrimSpace(line[len(deckPrefix):]); deck != "" {
				b.deck = deck
			}
		case strings.HasPrefix(line, questionPrefix):
			b.start(readingQuestion, line, questionPrefix)
		case strings.HasPrefix(line, answerPrefix):
			b.start(readingAnswer, line, answerPrefix)
		case strings.HasPrefix(line, contextPrefix):
			b.start(readingContext, line, contextPrefix)
		case b.state != seeking:
			b.block = append(b.block, line)
		}
	}

	if err := scanner.Err(); err != nil {
		// The card being read when the scanner stopped may be truncated.
		return b.cards, err
	}
	b.finishCard()
	return b.cards, nil
}
