package storage

import "testing"

func TestOffsetFor(t *testing.T) {
	cases := []struct {
		page Page
		want int
	}{
		{Page{Number: 0, Limit: 20}, 0},
		{Page{Number: 1, Limit: 20}, 0},
		{Page{Number: 2, Limit: 20}, 20},
		{Page{Number: 3, Limit: 10}, 20},
	}
	for _, c := range cases {
		if got := offsetFor(c.page); got != c.want {
			t.Errorf("offsetFor(%+v) = %d, want %d", c.page, got, c.want)
		}
	}
}
