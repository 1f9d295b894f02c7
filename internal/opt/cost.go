package opt

// RouteCost is the length of the closed tour depot → route... → depot.
// Cities are 1-based ids; depot is a 0-based matrix index. The matrix is read
// as given, so asymmetric distances are honoured.
func RouteCost(route Route, matrix [][]int, depot int) int {
	if len(route) == 0 {
		return 0
	}
	d := matrix[depot][route[0]-1]
	for i := 1; i < len(route); i++ {
		d += matrix[route[i-1]-1][route[i]-1]
	}
	return d + matrix[route[len(route)-1]-1][depot]
}
