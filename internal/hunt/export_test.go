package hunt

// exported for black-box tests in hunt_test
var ParseBuildVersion = parseBuildVersion
