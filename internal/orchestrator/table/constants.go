package table

// MissLogEvery throttles the "no table data" warning.
const MissLogEvery = 10
