package stats

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/runningwild/vbench/pkg/metrics"
)

// Point is one load level and the throughput measured at it.
type Point struct {
	X float64
	Y float64
}

// FindKnee returns the point of maximum curvature of a concave saturation curve
// (kneedle): after normalizing both axes to [0, 1], the point furthest above the
// diagonal. Short or flat curves return their last point.
func FindKnee(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b Point) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})
	last := pts[len(pts)-1]
	if len(pts) < 3 {
		return last
	}

	minX, maxX := pts[0].X, last.X
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	if maxX == minX || maxY == minY {
		return last
	}

	best, knee := -1.0, last
	for _, p := range pts {
		d := (p.Y-minY)/(maxY-minY) - (p.X-minX)/(maxX-minX)
		if d > best {
			best, knee = d, p
		}
	}
	return knee
}

// Curve is mean throughput against client count for one configuration. Key.Clients is 0.
type Curve struct {
	Key    Key
	Points []Point
	Knee   Point
}

// Saturation finds, per configuration, the client count past which adding clients
// stops paying off. Configurations measured at fewer than three client counts are skipped.
func Saturation(recs []*metrics.Record) []Curve {
	groups := Group(recs)
	byCurve := map[Key][]Point{}
	for k, s := range groups {
		ck := k
		ck.Clients = 0
		byCurve[ck] = append(byCurve[ck], Point{X: float64(k.Clients), Y: s.Series["rps"].Mean()})
	}
	var out []Curve
	for k, pts := range byCurve {
		if len(pts) < 3 {
			continue
		}
		knee := FindKnee(pts)
		slices.SortFunc(pts, func(a, b Point) int { return int(a.X - b.X) })
		out = append(out, Curve{Key: k, Points: pts, Knee: knee})
	}
	slices.SortFunc(out, func(a, b Curve) int { return a.Key.compare(b.Key) })
	return out
}

// WriteSaturation prints one line per curve.
func WriteSaturation(w io.Writer, curves []Curve) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tDATA SIZE\tPIPELINE\tCLUSTER\tTLS\tKNEE CLIENTS\tRPS AT KNEE\tPEAK RPS")
	for _, c := range curves {
		peak := 0.0
		for _, p := range c.Points {
			peak = max(peak, p.Y)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%t\t%.0f\t%.2f\t%.2f\n",
			c.Key.Command, c.Key.DataSize, c.Key.Pipeline, c.Key.ClusterMode, c.Key.TLS, c.Knee.X, c.Knee.Y, peak)
	}
	return tw.Flush()
}
