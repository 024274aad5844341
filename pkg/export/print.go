package export

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Sternrassler/sonet/pkg/search"
)

// maxText truncates post text in PrintPosts.
const maxText = 80

// PrintPosts writes an aligned id/created_at/text table of posts to w.
func PrintPosts(w io.Writer, posts []search.Post) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED_AT\tTEXT")
	for _, p := range posts {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, Field(p.Attributes, "created_at"), oneLine(Field(p.Attributes, "text")))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxText {
		return string(r[:maxText-3]) + "..."
	}
	return s
}
