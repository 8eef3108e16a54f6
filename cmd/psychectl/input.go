package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/domain/model"
)

func (g *globals) readEvent(path string) (model.ContributionEvent, error) {
	var ev model.ContributionEvent
	r, err := g.input(path)
	if err != nil {
		return ev, err
	}
	defer r.Close()
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (g *globals) readItems(path string) ([]service.ImportItem, error) {
	r, err := g.input(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return decodeItems(r)
}

// decodeItems accepts either a JSON array of items or a stream of items,
// one JSON value after another (JSONL).
func decodeItems(r io.Reader) ([]service.ImportItem, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var items []service.ImportItem
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return items, nil
	}

	var items []service.ImportItem
	for {
		var it service.ImportItem
		err := dec.Decode(&it)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode item %d: %w", len(items)+1, err)
		}
		items = append(items, it)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
