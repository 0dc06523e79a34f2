// Package sample is loaded by the regiondump tests.
package sample

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sum(n int) int {
	total := 0
	for i := 0; i < n; i++ {
		total += i
	}
	return total
}
