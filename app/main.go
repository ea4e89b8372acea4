package main

import (
	"flag"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/config"
	"github.com/ColdToo/Cold2Raft/log"
	"github.com/dustin/go-humanize"
)

func main() {
	path := flag.String("config", config.DefaultConfigPath, "config file path")
	flag.Parse()

	if _, err := config.InitConfig(*path); err != nil {
		log.Fatal("init config failed").Err("err", err).Record()
	}
	log.InitLog(config.GetZapConf())
	defer log.Sync()

	rc, ac := config.GetRaftConf(), config.GetAppConf()
	maxSize, _ := rc.MaxMsgBytes()
	log.Info("starting leader").U64(code.LocalId, rc.ID).U64(code.Term, rc.Term).
		Str("max-size-per-msg", humanize.IBytes(maxSize)).Str("http-addr", ac.HttpAddr).Record()

	proposeC := make(chan []byte)
	kvStore := NewKVStore(proposeC, ac.RequestTimeout)
	an, err := StartAppNode(rc, ac, proposeC, kvStore, nil)
	if err != nil {
		log.Fatal("start app node failed").Err("err", err).Record()
	}
	ServeHttpKVAPI(kvStore, an.Status, ac.HttpAddr, an.Done())
}
