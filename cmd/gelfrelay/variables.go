package main

var (
	configFile  string
	logLevel    string
	metricsAddr string
)
