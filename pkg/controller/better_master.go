package controller

import (
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// betterMasterExists decides whether to preempt the sitting master.
// During recovery any strictly better master candidate wins: further
// recovery progress is worth trading for a better master. Once fully
// recovered, the whole placement must be no worse in every dimension and
// strictly better in at least one. When any current role worker has
// vanished from the registry the comparison is impossible and the sitting
// master is preferred.
func (cc *ClusterController) betterMasterExists() bool {
	dbi := cc.db.serverInfo.Get()

	cc.db.mu.Lock()
	conf := cc.db.config
	cc.db.mu.Unlock()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	masterWorker, ok := cc.idWorker[dbi.Master.Locality.ProcessID]
	if !ok {
		return false
	}

	idUsed := make(map[string]int)
	idUsed[cc.masterProcessID]++

	oldMasterFit := masterWorker.processClass.MachineClassFitness(fitness.RoleMaster)
	newMaster, err := cc.getMasterWorkerLocked(true)
	if err != nil {
		return false
	}
	newMasterFit := newMaster.ProcessClass.MachineClassFitness(fitness.RoleMaster)

	if dbi.RecoveryState < RecoveryFullyRecovered {
		if oldMasterFit > newMasterFit {
			cc.logger.Info("better master exists before full recovery",
				logging.String("old_fit", oldMasterFit.String()),
				logging.String("new_fit", newMasterFit.String()))
			return true
		}
		return false
	}

	if oldMasterFit < newMasterFit {
		return false
	}

	var tlogClasses []fitness.ProcessClass
	for _, t := range dbi.LogSystemConfig.TLogs {
		w, ok := cc.idWorker[t.Locality.ProcessID]
		if !ok {
			return false
		}
		tlogClasses = append(tlogClasses, w.processClass)
	}
	oldAcross := fitness.NewAcrossDatacenterFitness(tlogClasses)

	newTlogs, err := cc.getWorkersForTlogsLocked(conf, idUsed, true)
	if err != nil {
		return false
	}
	newAcross := fitness.NewAcrossDatacenterFitness(classesOf(newTlogs))

	if oldAcross.Better(newAcross) {
		return false
	}

	var proxyClasses []fitness.ProcessClass
	for _, p := range dbi.Client.Proxies {
		w, ok := cc.idWorker[p.Locality.ProcessID]
		if !ok {
			return false
		}
		proxyClasses = append(proxyClasses, w.processClass)
	}
	var resolverClasses []fitness.ProcessClass
	for _, r := range dbi.Resolvers {
		w, ok := cc.idWorker[r.Locality.ProcessID]
		if !ok {
			return false
		}
		resolverClasses = append(resolverClasses, w.processClass)
	}
	oldIn := fitness.NewInDatacenterFitness(proxyClasses, resolverClasses)

	newIn := fitness.WorstInDatacenterFitness()
	for _, dcID := range cc.getDatacentersLocked(conf, true) {
		used := make(map[string]int, len(idUsed))
		for k, v := range idUsed {
			used[k] = v
		}

		firstResolver, err := cc.getWorkerForRoleInDatacenterLocked(dcID, fitness.RoleResolver, conf, used, true)
		if err != nil {
			continue
		}
		firstProxy, err := cc.getWorkerForRoleInDatacenterLocked(dcID, fitness.RoleProxy, conf, used, true)
		if err != nil {
			continue
		}

		proxies := cc.getWorkersForRoleInDatacenterLocked(dcID, fitness.RoleProxy,
			conf.GetDesiredProxies()-1, conf, used, firstProxy, true)
		resolvers := cc.getWorkersForRoleInDatacenterLocked(dcID, fitness.RoleResolver,
			conf.GetDesiredResolvers()-1, conf, used, firstResolver, true)
		proxies = append(proxies, firstProxy.worker)
		resolvers = append(resolvers, firstResolver.worker)

		fit := fitness.NewInDatacenterFitness(classesOf(proxies), classesOf(resolvers))
		if fit.Better(newIn) {
			newIn = fit
		}
	}

	if oldIn.Better(newIn) {
		return false
	}

	if oldMasterFit > newMasterFit || newAcross.Better(oldAcross) || newIn.Better(oldIn) {
		cc.logger.Info("better master exists",
			logging.String("old_master_fit", oldMasterFit.String()),
			logging.String("new_master_fit", newMasterFit.String()),
			logging.Int("old_tlog_count", oldAcross.TLogCount),
			logging.Int("new_tlog_count", newAcross.TLogCount),
			logging.Int("old_proxy_count", oldIn.ProxyCount),
			logging.Int("new_proxy_count", newIn.ProxyCount))
		return true
	}
	return false
}
