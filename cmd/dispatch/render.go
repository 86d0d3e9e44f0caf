package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/internal/simulation"
)

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(title)
	return tw
}

func position(x, y float64) string { return fmt.Sprintf("(%g, %g)", x, y) }

func ratingText(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *r)
}

func itemsText(items []types.Item) string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = fmt.Sprintf("%s %.2f", it.Name, it.Price)
	}
	return strings.Join(names, ", ")
}

func renderCandidates(w io.Writer, cs []types.Candidate) {
	tw := newTable(w, "Nearby")
	tw.AppendHeader(table.Row{"#", "Name", "Position", "Distance", "Availability"})
	for i, c := range cs {
		tw.AppendRow(table.Row{i + 1, c.Name, position(c.At.X, c.At.Y), fmt.Sprintf("%.2f", c.Distance), c.Availability})
	}
	tw.Render()
}

func renderPending(w io.Writer, ps []types.PendingRequest) {
	tw := newTable(w, "Pending")
	tw.AppendHeader(table.Row{"Request", "Kind", "Requester", "Route / Venue", "Amount", "Distance"})
	for _, p := range ps {
		where := p.Origin + " -> " + p.Destination
		if p.VenueName != "" {
			where = p.VenueName + ": " + itemsText(p.Items)
		}
		tw.AppendRow(table.Row{p.ID, p.Kind, p.RequesterName, where, fmt.Sprintf("%.2f", p.Amount), fmt.Sprintf("%.2f", p.Distance)})
	}
	tw.Render()
}

func renderHistory(w io.Writer, hs []types.HistoryEntry) {
	tw := newTable(w, "History")
	tw.AppendHeader(table.Row{"Request", "Kind", "Route / Venue", "Amount", "Status", "Fulfiller", "Avg", "Rating", "Venue Rating"})
	for _, h := range hs {
		where := h.Origin + " -> " + h.Destination
		if h.VenueName != "" {
			where = h.VenueName + ": " + itemsText(h.Items)
		}
		tw.AppendRow(table.Row{
			h.RequestID, h.Kind, where, fmt.Sprintf("%.2f", h.Amount), h.Status,
			h.FulfillerName, fmt.Sprintf("%.2f", h.FulfillerAverage), ratingText(h.Rating), ratingText(h.VenueRating),
		})
	}
	tw.Render()
}

func renderFulfillers(w io.Writer, fs []types.FulfillerStats) {
	tw := newTable(w, "Fulfillers")
	tw.AppendHeader(table.Row{"Name", "Position", "Availability", "Completed", "Ratings", "Average"})
	for _, f := range fs {
		tw.AppendRow(table.Row{f.Name, position(f.At.X, f.At.Y), f.Availability, f.Completed, f.RatingCount, fmt.Sprintf("%.2f", f.AverageRating)})
	}
	tw.Render()
}

func renderVenues(w io.Writer, vs []types.VenueSummary) {
	tw := newTable(w, "Venues")
	tw.AppendHeader(table.Row{"Name", "Location", "Position", "Menu", "Orders", "Ratings", "Average"})
	for _, v := range vs {
		tw.AppendRow(table.Row{v.Name, v.Location, position(v.At.X, v.At.Y), v.MenuSize, v.CompletedOrders, v.RatingCount, fmt.Sprintf("%.2f", v.AverageRating)})
	}
	tw.Render()
}

func renderHeatmap(w io.Writer, es []types.HeatmapEntry) {
	tw := newTable(w, "Heatmap")
	tw.AppendHeader(table.Row{"Rank", "Key", "Count"})
	for _, e := range es {
		tw.AppendRow(table.Row{e.Rank, e.Key, e.Count})
	}
	tw.Render()
}

func renderReport(w io.Writer, rep *simulation.Report) {
	tw := newTable(w, "Simulation")
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"submitted", rep.Submitted},
		{"rides", rep.Rides},
		{"orders", rep.Orders},
		{"accepted", rep.Accepted},
		{"accept conflicts", rep.Conflicts},
		{"completed", rep.Completed},
		{"rated", rep.Rated},
		{"duration", rep.Duration.String()},
		{"violations", len(rep.Violations)},
	})
	tw.Render()

	renderHeatmap(w, rep.Top)
	for _, v := range rep.Violations {
		fmt.Fprintln(w, "violation:", v)
	}
}
