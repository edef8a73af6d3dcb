package execution

//go:generate mockgen -destination=mock_kio_test.go -package=execution github.com/birdayz/clickstream/kio Sink,Source,Cursor
