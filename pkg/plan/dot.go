// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"errors"
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// WriteDOT writes the plan's job graph in Graphviz DOT form.  Jobs whose
// every leg is skipped are drawn dashed; matrix jobs are labeled with their
// leg count.
func (p *Plan) WriteDOT(w io.Writer) error {
	g := graph.New(graph.StringHash, graph.Directed())
	for _, jobID := range p.jobOrder {
		legs := p.byJob[jobID]
		attrs := []func(*graph.VertexProperties){
			graph.VertexAttribute("shape", "box"),
		}
		if len(legs) > 1 {
			attrs = append(attrs,
				graph.VertexAttribute("label", fmt.Sprintf("%s\\n(%d legs)", jobID, len(legs))))
		}
		if allSkipped(legs) {
			attrs = append(attrs, graph.VertexAttribute("style", "dashed"))
		}
		if err := g.AddVertex(jobID, attrs...); err != nil {
			return err
		}
	}
	for _, jobID := range p.jobOrder {
		for _, need := range p.Needs(jobID) {
			if err := g.AddEdge(need, jobID); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return err
			}
		}
	}
	return draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR"))
}

func allSkipped(legs []*Leg) bool {
	for _, leg := range legs {
		if !leg.Skip {
			return false
		}
	}
	return len(legs) > 0
}
