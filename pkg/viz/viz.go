package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/scoresync/pkg/crdt"
)

// RenderSequenceToSvg draws the sequence's element graph: one node per
// element (tombstones included) labelled with its identifier and
// event, and an edge from every origin to the elements inserted after
// it. Useful when debugging why concurrent inserts landed in a given
// order.
func RenderSequenceToSvg(seq *crdt.Sequence, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	root, err := graph.CreateNode("root")
	if err != nil {
		return fmt.Errorf("failed to create root node: %w", err)
	}
	root.SetLabel("root")

	nodeMap := map[crdt.ID]*cgraph.Node{crdt.Root: root}
	elements := seq.Elements()
	for _, el := range elements {
		n, err := graph.CreateNode(el.ID.String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		label := fmt.Sprintf("%s %s %s", el.ID, strings.Join(el.Event.Keys, " "), el.Event.DurationCode())
		if el.Tombstone {
			label += " (deleted)"
		}
		n.SetLabel(label)
		nodeMap[el.ID] = n
	}

	var edgeCounter int
	for _, el := range elements {
		from, ok := nodeMap[el.Origin]
		if !ok {
			// Origin not present locally: dangling, point it at root.
			from = root
		}
		edgeCounter++
		if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), from, nodeMap[el.ID]); err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write")
	}
	return nil
}

func RenderToTemp(seq *crdt.Sequence) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderSequenceToSvg(seq, tf); err != nil {
		return "", err
	}
	return tf, nil
}
